// Package clock abstracts time so background schedulers can be driven
// deterministically in tests.
//
// Production code uses [Real]. Tests use [Fake] and call Advance to move
// time forward; tickers created from a fake clock fire once per elapsed
// interval.
package clock
