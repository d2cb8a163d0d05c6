package runtime

import (
	"fmt"
	"os"

	idspkg "github.com/drblury/subserver/internal/runtime/ids"
)

// Identity names one process among all the processes consuming the same
// subscriptions.
type Identity struct {
	Hostname string `json:"hostname"`
	PID      int    `json:"pid"`
	Nonce    string `json:"nonce"`
}

var hostname = os.Hostname

// NewIdentity captures the host and pid and draws a fresh nonce.
func NewIdentity() Identity {
	host, err := hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return Identity{
		Hostname: host,
		PID:      os.Getpid(),
		Nonce:    idspkg.Nonce(),
	}
}

// String renders hostname:pid:nonce.
func (i Identity) String() string {
	return fmt.Sprintf("%s:%d:%s", i.Hostname, i.PID, i.Nonce)
}
