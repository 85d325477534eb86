// Package probe performs timed network transfers and turns them into speed
// samples.
//
// Two backends are provided:
//   - HTTPProbe: GET a fixed URL (download) or POST a fixed-size zero payload
//     to a fixed URL (upload), timing each transfer end to end.
//   - SpeedtestProbe: one fixed speedtest.net server driven by speedtest-go.
//
// Probes never mutate shared state; callers decide what to do with a Result.
// A failed transfer is reported as an error matching ErrTransferFailed.
package probe
