package commands

// CLI-specific constants
const (
	// DefaultEditorCommand is the default editor command
	DefaultEditorCommand = "vi"
	// DefaultHistoryLimit is the default number of rows `history list` prints
	DefaultHistoryLimit = 20
	envKeyEditor        = "EDITOR"
)

// Error messages
const (
	ErrConfigLoaderUnavailable  = "config loader unavailable"
	ErrDoctorServiceUnavailable = "doctor service unavailable"
	ErrHistoryStoreUnavailable  = "history store unavailable"
	ErrCacheStoreUnavailable    = "cache store unavailable"
	ErrExecutorUnavailable      = "execution service unavailable"
	ErrCatalogUnavailable       = "card catalog unavailable"
)

// Success messages
const (
	MsgConfigurationValid       = "Configuration valid"
	MsgNoDifferencesFromDefault = "No differences from default configuration."
	MsgNoHistoryRecorded        = "No history recorded yet."
	MsgNoCachedEntries          = "No cache entries."
	MsgNoCards                  = "No cards defined."
	MsgAborted                  = "Aborted."
)
