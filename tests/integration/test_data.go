package integration

import (
	"fmt"
	"time"
)

// TestAccountID generates a unique account identifier using timestamp
func TestAccountID(suffix string) string {
	return fmt.Sprintf("acct-%d-%s", time.Now().UnixNano(), suffix)
}

// LoginFailure builds a /attempts request body for a failed login
func LoginFailure(accountID string) map[string]interface{} {
	return map[string]interface{}{
		"account_id": accountID,
		"kind":       "login",
		"email":      accountID + "@classboard.test",
		"name":       "Test Account",
	}
}

// PasswordChangeFailure builds a /attempts request body for a failed password change
func PasswordChangeFailure(accountID string) map[string]interface{} {
	return map[string]interface{}{
		"account_id": accountID,
		"kind":       "password_change",
		"email":      accountID + "@classboard.test",
		"name":       "Test Account",
	}
}
