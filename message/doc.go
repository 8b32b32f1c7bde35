// Package message holds the data model every other package passes around: the
// Message property bag, the Exchange that correlates the in, out and fault
// messages of one round trip, and the Interceptor, InterceptorChain and
// Observer contracts that connect transports to the dispatch core.
//
// A Message carries an open string-keyed property map plus typed content slots
// keyed by Go type (an io.Reader for an inbound body, an io.Writer for an
// outbound one, the data-bound objects, a reply path). Exchange setters always
// link the message back to the exchange:
//
//	ex := message.NewExchange()
//	ex.SetInMessage(m) // m.Exchange() == ex from now on
package message
