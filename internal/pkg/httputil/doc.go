// Package httputil holds the JSON and download response helpers shared by
// the site's handlers.
package httputil
