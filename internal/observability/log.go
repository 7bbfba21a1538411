package observability

import "log"

// Infof/Warnf/Errorf are thin wrappers around the standard log package,
// matching the teacher's own idiom of plain log.Printf calls with an ad hoc
// component prefix (e.g. "🚀 Starting FluxForge control plane...") — made
// consistent here rather than replaced, since no file in the teacher or the
// rest of the pack reaches for zap/logrus/zerolog (see DESIGN.md). Every
// logging call site in internal/* and cmd/* goes through one of these three
// (log.Fatalf is the sole exception, since process-exit-on-failure has no
// equivalent here).
func Infof(component, format string, args ...any) {
	log.Printf("["+component+"] "+format, args...)
}

func Warnf(component, format string, args ...any) {
	log.Printf("["+component+"] WARN "+format, args...)
}

func Errorf(component, format string, args ...any) {
	log.Printf("["+component+"] ERROR "+format, args...)
}
