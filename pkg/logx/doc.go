// Package logx configures repeatjob's structured logging.
//
// Components take a logx.Logger (a small wrapper on top of zerolog) so that:
//   - Console output stays readable (short timestamp + short caller) and goes
//     to stderr, leaving stdout to the dispatch lines
//   - File output is JSON-structured
//   - The zero value is a safe no-op, so tests can pass logx.Logger{}
package logx
