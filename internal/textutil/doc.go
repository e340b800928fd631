// Package textutil sanitizes untrusted strings before they become file
// names, such as the download name a daemon suggests for a result.
package textutil
