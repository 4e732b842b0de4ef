package sessionconfig

import "fmt"

// ValidationError is one problem found in a Config.
type ValidationError struct {
	Field   string
	Message string
	Level   string // "error" or "warning"
}

// ValidateConfiguration checks cfg for problems that would prevent a
// node from joining the overlay or negotiating a round.
func ValidateConfiguration(cfg *Config) []ValidationError {
	var errors []ValidationError

	switch cfg.Role {
	case "server", "client":
	case "":
		errors = append(errors, ValidationError{Field: "Role", Message: "role is required (server or client)", Level: "error"})
	default:
		errors = append(errors, ValidationError{Field: "Role", Message: fmt.Sprintf("unknown role %q", cfg.Role), Level: "error"})
	}

	if cfg.ListenAddr == "" {
		errors = append(errors, ValidationError{Field: "ListenAddr", Message: "listen address is required", Level: "error"})
	}

	if len(cfg.Servers) == 0 {
		errors = append(errors, ValidationError{Field: "Servers", Message: "at least one server is required", Level: "error"})
	}
	seen := make(map[string]bool, len(cfg.Servers))
	for i, s := range cfg.Servers {
		field := fmt.Sprintf("Servers[%d]", i)
		if s.Id == "" {
			errors = append(errors, ValidationError{Field: field + ".Id", Message: "server id is required", Level: "error"})
		} else if seen[s.Id] {
			errors = append(errors, ValidationError{Field: field + ".Id", Message: "duplicate server id", Level: "error"})
		}
		seen[s.Id] = true
		if s.PubKey == "" {
			errors = append(errors, ValidationError{Field: field + ".PubKey", Message: "server public key is required", Level: "error"})
		}
		if s.Address == "" {
			errors = append(errors, ValidationError{Field: field + ".Address", Message: "server dial address is required", Level: "error"})
		}
	}

	if cfg.Session.AdmissionWindow <= 0 {
		errors = append(errors, ValidationError{Field: "Session.AdmissionWindow", Message: "must be positive", Level: "error"})
	}
	if cfg.Session.QueueRetry <= 0 {
		errors = append(errors, ValidationError{Field: "Session.QueueRetry", Message: "must be positive", Level: "error"})
	}
	if cfg.Session.RoundChunkSize <= 0 {
		errors = append(errors, ValidationError{Field: "Session.RoundChunkSize", Message: "must be positive", Level: "error"})
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error", "fatal":
	default:
		errors = append(errors, ValidationError{Field: "Logging.Level", Message: fmt.Sprintf("unknown level %q", cfg.Logging.Level), Level: "warning"})
	}

	return errors
}
