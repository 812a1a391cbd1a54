package backend

import "os/exec"

// Info describes an available backend and its detection status.
type Info struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// DetectAvailable reports which backends this host can actually run.
// localprocess needs nothing beyond the host itself; container needs a
// working docker CLI.
func DetectAvailable() []Info {
	return []Info{
		{Name: "localprocess", Available: true},
		detectDocker(),
	}
}

func detectDocker() Info {
	info := Info{Name: "container"}
	if _, err := exec.LookPath("docker"); err != nil {
		info.Reason = "docker not found in PATH"
		return info
	}
	info.Available = true
	return info
}
