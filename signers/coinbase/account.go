package coinbase

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
)

const evmAccountsPath = "/platform/v2/evm/accounts"

// accountNameRegex: 2-36 characters, alphanumeric and hyphens, starting and
// ending with an alphanumeric character.
var accountNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,34}[A-Za-z0-9]$`)

// CDPAccount is an EVM server wallet account.
type CDPAccount struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type createAccountRequest struct {
	Name string `json:"name"`
}

// ValidateAccountName checks the CDP account naming rules.
func ValidateAccountName(name string) error {
	if !accountNameRegex.MatchString(name) {
		return fmt.Errorf("invalid account name %q: 2-36 alphanumeric characters or hyphens, "+
			"starting and ending with an alphanumeric character", name)
	}
	return nil
}

// GetOrCreateAccount returns the EVM account called name, creating it when
// it does not exist. Calling it repeatedly with the same name returns the
// same account.
func GetOrCreateAccount(ctx context.Context, client *CDPClient, name string) (*CDPAccount, error) {
	if err := ValidateAccountName(name); err != nil {
		return nil, err
	}

	var account CDPAccount
	err := client.doRequestWithRetry(ctx, "GET", evmAccountsPath+"/by-name/"+url.PathEscape(name), nil, &account, false)
	switch {
	case err == nil:
	case isNotFound(err):
		account = CDPAccount{}
		err = client.doRequestWithRetry(ctx, "POST", evmAccountsPath, createAccountRequest{Name: name}, &account, true)
		if err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
	default:
		return nil, fmt.Errorf("get account: %w", err)
	}

	if !common.IsHexAddress(account.Address) {
		return nil, fmt.Errorf("CDP API returned invalid account address %q", account.Address)
	}
	return &account, nil
}
