// Package chart renders PNG bar charts of change summaries and condition
// means with go-chart.
package chart
