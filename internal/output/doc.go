// Package output reports observations about the tracked shell's children.
//
// LineReporter prints the user-facing stdout line. SpanReporter records the
// same observation as an OpenTelemetry span, starting at the kernel fork
// timestamp (converted by timesync) and carrying custom attributes from the
// attributes package. Reporters combines them.
//
// Reporters only format. Resolution, checking and filtering happen upstream
// in eventprocessor.
package output
