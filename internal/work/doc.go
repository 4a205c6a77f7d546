// Package work implements the work processor system with event-driven job scheduling.
//
// # Work Type Architecture
//
// The work processor executes background jobs based on:
//   - Event triggers (dependencies between work types)
//   - Market timing (only during open hours, only after close, only when all closed, or anytime)
//   - Intervals (time between executions)
//
// # Registered Work Types
//
// RegisterTradingWorkTypes registers two work types, both PriorityHigh, with
// hardcoded intervals (no setting changes them):
//
//   - marketdata:refresh: 1 minute, DuringMarketOpen, one subject per tracked symbol
//   - orders:reconcile: 10 minutes, AnyTime, one subject only when brokers are configured
//
// # Market Timing
//
// Work types use MarketTiming to pause/resume based on market hours:
//   - DuringMarketOpen: Runs only when markets are open
//   - AfterMarketClose: Runs after markets close
//   - AllMarketsClosed: Runs only when all markets are closed
//   - AnyTime: Runs regardless of market hours
//
// The container wires the processor with a market checker that reports every
// market as open at all times, so DuringMarketOpen work is never paused there.
package work
