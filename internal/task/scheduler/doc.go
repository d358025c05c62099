// Package scheduler fires jobs at fixed daily wall-clock times on top of
// robfig/cron. Ticks missed while the process was down are not made up.
package scheduler
