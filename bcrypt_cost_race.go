//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

func passwordHashCost() int {
	// race builds run much slower, keep the suite within its timeouts
	return bcrypt.DefaultCost
}
