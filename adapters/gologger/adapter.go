package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// RootName is the logger name shared by every relay component.
const RootName = "botrelay"

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(ComponentName(name), provider, logger)
}

// ComponentName qualifies a component under RootName. An empty component
// resolves to the root name.
func ComponentName(component string) string {
	component = strings.Trim(strings.TrimSpace(component), ".")
	switch {
	case component == "" || component == RootName:
		return RootName
	case strings.HasPrefix(component, RootName+"."):
		return component
	default:
		return RootName + "." + component
	}
}

// Component returns the named logger for a relay component, falling back to
// logger and then to a no-op logger.
func Component(provider glog.LoggerProvider, logger glog.Logger, component string) glog.Logger {
	name := ComponentName(component)
	if provider != nil {
		if named := provider.GetLogger(name); named != nil {
			return named
		}
	}
	return glog.Ensure(logger)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the logger for a queue-driven component and returns
// the go-job bridges alongside it.
func ResolveForJob(
	component string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(component, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
