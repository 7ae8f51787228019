package errdetect

import (
	"regexp"

	"github.com/jkaninda/onyesha/internal/domain"
)

// Pattern is one log signature the detector recognizes. The tables below
// are plain data so that new signatures can be added and unit-tested
// without touching the scan loop.
//
// Severity ranking and the AutoFixable flag are heuristic per-pattern
// judgment calls; treat them as configuration, not semantics.
type Pattern struct {
	Name         string
	Regex        *regexp.Regexp
	Type         domain.ErrorType
	Severity     domain.Severity
	Message      string
	Details      string
	SuggestedFix string
	AutoFixable  bool
}

// buildPatterns match build/compilation-phase output. Checked first;
// table order is significant (first match per line wins).
var buildPatterns = []Pattern{
	{
		Name:         "module-not-found",
		Regex:        regexp.MustCompile(`(?i)cannot find module ['"]([^'"]+)['"]`),
		Type:         domain.ErrorDependency,
		Severity:     domain.SeverityHigh,
		Message:      "A required module could not be resolved",
		Details:      "The bundler or runtime could not locate an imported module.",
		SuggestedFix: "Add the missing package to the project dependencies.",
		AutoFixable:  true,
	},
	{
		Name:         "module-not-found-webpack",
		Regex:        regexp.MustCompile(`Module not found: (?:Error: )?Can't resolve ['"]([^'"]+)['"]`),
		Type:         domain.ErrorImport,
		Severity:     domain.SeverityHigh,
		Message:      "An import could not be resolved",
		Details:      "webpack could not resolve an import path.",
		SuggestedFix: "Fix the import path or install the missing dependency.",
		AutoFixable:  true,
	},
	{
		Name:         "failed-to-compile",
		Regex:        regexp.MustCompile(`(?i)failed to compile`),
		Type:         domain.ErrorCompilation,
		Severity:     domain.SeverityCritical,
		Message:      "The project failed to compile",
		Details:      "The build toolchain reported a compilation failure.",
		SuggestedFix: "Inspect the surrounding build output for the offending file.",
		AutoFixable:  true,
	},
	{
		Name:         "webpack-error",
		Regex:        regexp.MustCompile(`(?i)webpack.*(?:error|failed)`),
		Type:         domain.ErrorCompilation,
		Severity:     domain.SeverityHigh,
		Message:      "webpack reported a build error",
		Details:      "The bundler emitted one or more errors during the build.",
		SuggestedFix: "Check the webpack output above the error marker.",
		AutoFixable:  false,
	},
	{
		Name:         "syntax-error",
		Regex:        regexp.MustCompile(`(?i)syntaxerror[:\s]`),
		Type:         domain.ErrorCompilation,
		Severity:     domain.SeverityCritical,
		Message:      "A source file contains a syntax error",
		Details:      "Parsing failed before the code could run.",
		SuggestedFix: "Fix the syntax at the reported location.",
		AutoFixable:  true,
	},
	{
		Name:         "missing-dependency",
		Regex:        regexp.MustCompile(`(?i)(?:npm ERR!.*(?:missing|notarget|404)|No matching distribution found for)`),
		Type:         domain.ErrorDependency,
		Severity:     domain.SeverityHigh,
		Message:      "A declared dependency could not be installed",
		Details:      "The package manager failed to fetch a dependency.",
		SuggestedFix: "Correct the package name or pin an existing version.",
		AutoFixable:  true,
	},
	{
		Name:         "port-in-use",
		Regex:        regexp.MustCompile(`(?i)(?:EADDRINUSE|address already in use|port.*already in use)`),
		Type:         domain.ErrorNetwork,
		Severity:     domain.SeverityHigh,
		Message:      "The server port is already in use",
		Details:      "Another process inside the container holds the listen port.",
		SuggestedFix: "Restart the preview to get a clean container.",
		AutoFixable:  false,
	},
	{
		Name:         "oom-killed",
		Regex:        regexp.MustCompile(`(?i)(?:JavaScript heap out of memory|Killed.*(?:signal 9|oom))`),
		Type:         domain.ErrorContainer,
		Severity:     domain.SeverityCritical,
		Message:      "The build exceeded the container memory limit",
		Details:      "The process was killed while allocating memory.",
		SuggestedFix: "Reduce the build's memory footprint or raise the sandbox limit.",
		AutoFixable:  false,
	},
}

// runtimePatterns match errors thrown by already-running code.
var runtimePatterns = []Pattern{
	{
		Name:         "type-error",
		Regex:        regexp.MustCompile(`(?i)typeerror[:\s]`),
		Type:         domain.ErrorRuntime,
		Severity:     domain.SeverityMedium,
		Message:      "A TypeError was thrown at runtime",
		Details:      "Code accessed a value of an unexpected type (often undefined).",
		SuggestedFix: "Guard the access or fix the value's origin.",
		AutoFixable:  true,
	},
	{
		Name:         "reference-error",
		Regex:        regexp.MustCompile(`(?i)referenceerror[:\s]`),
		Type:         domain.ErrorRuntime,
		Severity:     domain.SeverityMedium,
		Message:      "A ReferenceError was thrown at runtime",
		Details:      "Code referenced an identifier that is not defined.",
		SuggestedFix: "Declare or import the missing identifier.",
		AutoFixable:  true,
	},
	{
		Name:         "unhandled-rejection",
		Regex:        regexp.MustCompile(`(?i)unhandled(?:promise)?rejection`),
		Type:         domain.ErrorRuntime,
		Severity:     domain.SeverityLow,
		Message:      "An unhandled promise rejection occurred",
		Details:      "An async error escaped without a catch handler.",
		SuggestedFix: "Attach error handling to the failing promise chain.",
		AutoFixable:  false,
	},
	{
		Name:         "python-traceback",
		Regex:        regexp.MustCompile(`Traceback \(most recent call last\)`),
		Type:         domain.ErrorRuntime,
		Severity:     domain.SeverityMedium,
		Message:      "A Python exception was raised",
		Details:      "The server process hit an uncaught exception.",
		SuggestedFix: "Read the traceback that follows this line.",
		AutoFixable:  false,
	},
	{
		Name:         "python-import-error",
		Regex:        regexp.MustCompile(`(?:ModuleNotFoundError|ImportError): No module named ['"]?([^'"\s]+)`),
		Type:         domain.ErrorDependency,
		Severity:     domain.SeverityHigh,
		Message:      "A Python module could not be imported",
		Details:      "The interpreter could not find an imported module.",
		SuggestedFix: "Add the package to requirements.txt.",
		AutoFixable:  true,
	},
	{
		Name:         "connection-refused",
		Regex:        regexp.MustCompile(`(?i)(?:ECONNREFUSED|connection refused)`),
		Type:         domain.ErrorNetwork,
		Severity:     domain.SeverityMedium,
		Message:      "An outbound connection was refused",
		Details:      "The application tried to reach a service that is not listening.",
		SuggestedFix: "Point the application at a reachable endpoint.",
		AutoFixable:  false,
	},
	{
		Name:         "container-exited",
		Regex:        regexp.MustCompile(`(?i)(?:container.*exited|exited with code [1-9]\d*)`),
		Type:         domain.ErrorContainer,
		Severity:     domain.SeverityCritical,
		Message:      "The preview container exited unexpectedly",
		Details:      "The main process terminated with a non-zero exit code.",
		SuggestedFix: "Check the last log lines before the exit.",
		AutoFixable:  false,
	},
}
