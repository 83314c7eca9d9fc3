//go:build darwin

package config

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// keychainExec reads a generic password from the login keychain. Items are
// created with:
//
//	security add-generic-password -s crmpilot -a ai_api_key -w <value>
func keychainExec(service, account string) ([]byte, error) {
	// A locked keychain can prompt; never let that hang startup.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx,
		"security", "find-generic-password",
		"-s", service,
		"-a", account,
		"-w",
	).Output()
	if err != nil {
		return nil, fmt.Errorf("keychain item %s/%s: %w", service, account, err)
	}
	return out, nil
}
