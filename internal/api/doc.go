// Package api is a client for the OKX public REST API.
//
// The ingester only needs the instrument list: at startup it checks that
// every configured instrument is live and looks up the underlying index an
// instrument's index-tickers subscription must use. Public endpoints need
// no credentials.
package api
