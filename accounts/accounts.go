// Package accounts implements imapserver.Authenticator against the
// account credentials held in config.Static, the only credential store
// this frontend knows about: authentication plugins and a runtime
// account-management API are both out of scope, so the Check step is
// simply reading an already-parsed config file.
package accounts

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/oxidemail/imapd/config"
	"github.com/oxidemail/imapd/internal/scram"
)

// scramIterationsSHA256 matches the iteration count mox uses for newly
// set SCRAM-SHA-256 credentials.
const scramIterationsSHA256 = 4096
const scramIterationsSHA1 = 4096

// Store answers imapserver.Authenticator against a fixed map of
// accounts loaded from config.Static. It holds no mutable state and is
// safe for concurrent use by many connections.
type Store struct {
	accounts map[string]config.Account
}

// New builds a Store from the accounts named in cfg. It returns an
// error if any CanImpersonate target is not itself a known account.
func New(cfg config.Static) (*Store, error) {
	for login, acc := range cfg.Accounts {
		for _, target := range acc.CanImpersonate {
			if _, ok := cfg.Accounts[target]; !ok {
				return nil, fmt.Errorf("account %q: impersonation target %q unknown", login, target)
			}
		}
	}
	return &Store{accounts: cfg.Accounts}, nil
}

// AuthenticatePlain implements imapserver.Authenticator.
func (s *Store) AuthenticatePlain(ctx context.Context, username, password string) (account string, ok bool, err error) {
	acc, exists := s.accounts[username]
	if !exists {
		return "", false, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.Hash), []byte(password)); err != nil {
		return "", false, nil
	}
	return username, true, nil
}

// ScramCredentials implements imapserver.Authenticator.
func (s *Store) ScramCredentials(ctx context.Context, username string, sha256 bool) (iterations int, salt, saltedPassword []byte, account string, ok bool, err error) {
	acc, exists := s.accounts[username]
	if !exists {
		return 0, nil, nil, "", false, nil
	}
	scram := acc.SCRAMSHA1
	if sha256 {
		scram = acc.SCRAMSHA256
	}
	if len(scram.SaltedPassword) == 0 {
		return 0, nil, nil, "", false, nil
	}
	return scram.Iterations, scram.Salt, scram.SaltedPassword, username, true, nil
}

// CanImpersonate implements imapserver.Authenticator.
func (s *Store) CanImpersonate(ctx context.Context, principal, target string) (bool, error) {
	acc, exists := s.accounts[principal]
	if !exists {
		return false, nil
	}
	for _, t := range acc.CanImpersonate {
		if t == target {
			return true, nil
		}
	}
	return false, nil
}

// HashPassword derives the bcrypt digest stored as config.Account.Hash.
// It is used by the gendigest command, not at serving time.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

// ScramSHA1 derives the config.SCRAM value for SASL SCRAM-SHA-1, used
// by the gendigest command, not at serving time.
func ScramSHA1(password string) config.SCRAM {
	salt := scram.MakeRandom()
	return config.SCRAM{
		Iterations:     scramIterationsSHA1,
		Salt:           salt,
		SaltedPassword: scram.SaltPassword(sha1.New, password, salt, scramIterationsSHA1),
	}
}

// ScramSHA256 derives the config.SCRAM value for SASL SCRAM-SHA-256.
func ScramSHA256(password string) config.SCRAM {
	salt := scram.MakeRandom()
	return config.SCRAM{
		Iterations:     scramIterationsSHA256,
		Salt:           salt,
		SaltedPassword: scram.SaltPassword(sha256.New, password, salt, scramIterationsSHA256),
	}
}
