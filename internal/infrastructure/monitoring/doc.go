/*
Package monitoring provides Prometheus metrics for the navigation bridge.

# Overview

Each Metrics value owns a private registry so several instances can coexist
(one per test, one per server). It tracks HTTP requests, navigation
classification, script invocations, debugger steps, UI commands, open windows
and viewer connections.

# Usage

	metrics := monitoring.NewMetrics()

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Metrics satisfies script.Recorder and debugger.Recorder
	manager := script.NewManager(logger, script.WithRecorder(metrics))

	timer := monitoring.NewTimer(metrics, "addtopath")
	// ... handle command ...
	timer.Stop("success")
*/
package monitoring
