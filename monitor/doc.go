// Package monitor collects hook and call metrics from the dispatcher.
package monitor
