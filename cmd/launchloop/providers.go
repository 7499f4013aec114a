package main

// Provider blank imports: each import activates a self-registering adapter.

import (
	// Metric sources
	_ "github.com/Strob0t/LaunchLoop/internal/adapter/jsonfeed"
	_ "github.com/Strob0t/LaunchLoop/internal/adapter/xapi"

	// Approver notifications
	_ "github.com/Strob0t/LaunchLoop/internal/adapter/discord"
	_ "github.com/Strob0t/LaunchLoop/internal/adapter/email"
	_ "github.com/Strob0t/LaunchLoop/internal/adapter/slack"
)
