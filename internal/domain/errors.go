package domain

import "errors"

// Error kinds from spec §7. These are sentinel errors wrapped by
// concrete errors.New/fmt.Errorf call sites; callers use errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrAuth              = errors.New("auth error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrPathEscape        = errors.New("path escape")
	ErrKernelStartFailed = errors.New("kernel start failed")
	ErrPluginLoadFailed  = errors.New("plugin load failed")
	ErrSessionGone       = errors.New("session gone")
	ErrSupervisor        = errors.New("supervisor error")
	ErrTransport         = errors.New("transport error")
)
