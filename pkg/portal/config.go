package portal

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/estmeter/estmeter/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Configured sets up the portal provider from flags and returns the account
// Map. With -accounts-file every listed account gets its own client,
// otherwise the single account from -est-username/-est-password is used.
func Configured() *Map {
	provider := lflag.String("portal-provider", "est", "Portal provider to use (available: est, mock)")
	baseURL := lflag.String("portal-base-url", estProdBaseURL, "Base URL of the e-st.lv portal")
	username := lflag.String("est-username", "", "Portal account e-mail when running a single account")
	password := lflag.String("est-password", "", "Portal account password when running a single account")
	accountsFile := lflag.String("accounts-file", "", "Path to a TOML file listing portal accounts, takes precedence over est-username")

	m := NewMap()
	lflag.Do(func() {
		switch *provider {
		case "est":
			if *accountsFile != "" {
				accounts, err := LoadAccounts(*accountsFile)
				if err != nil {
					panic(fmt.Sprintf("failed to load accounts file: %v", err))
				}
				for _, a := range accounts {
					m.SetSource(a.Name, NewEST(*baseURL, a.Username, a.Password))
				}
				return
			}
			if *username == "" || *password == "" {
				panic("est-username and est-password are required without an accounts-file")
			}
			m.SetSource(types.AccountDefault, NewEST(*baseURL, *username, *password))
		case "mock":
			m.SetSource(types.AccountDefault, NewMock())
		default:
			panic(fmt.Sprintf("unknown portal provider: %s", *provider))
		}
	})
	return m
}

// Account holds the credentials of one portal account.
type Account struct {
	Name     string `toml:"name"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// LoadAccounts reads a TOML accounts file of the form:
//
//	[[accounts]]
//	name = "home"
//	username = "user@example.com"
//	password = "secret"
func LoadAccounts(path string) ([]Account, error) {
	var file struct {
		Accounts []Account `toml:"accounts"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if len(file.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts in %s", path)
	}

	seen := make(map[string]bool, len(file.Accounts))
	for i, a := range file.Accounts {
		if a.Name == "" {
			a.Name = types.AccountDefault
			file.Accounts[i].Name = a.Name
		}
		if a.Username == "" || a.Password == "" {
			return nil, fmt.Errorf("account %s is missing a username or password", a.Name)
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("duplicate account name %s", a.Name)
		}
		seen[a.Name] = true
	}
	return file.Accounts, nil
}
