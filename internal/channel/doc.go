// Package channel tracks live client connections and their conversation
// membership, and routes outbound messages and streamed response chunks to
// the right connections. Delivery is best effort: a failure or slow consumer
// on one connection never blocks delivery to the others and never fails the
// agent operation that triggered the send.
package channel
