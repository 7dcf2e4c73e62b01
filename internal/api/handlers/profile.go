package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tradiehq/ledgersync/internal/auth/identity"
	"github.com/tradiehq/ledgersync/internal/auth/vault"
	"github.com/tradiehq/ledgersync/internal/db/models"
)

// bankDetails are the fields printed on invoice footers. Stored encrypted,
// each field independently; any subset may be present.
type bankDetails struct {
	BankName      string `json:"bank_name"`
	BSB           string `json:"bsb"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

type profileResponse struct {
	Email        string      `json:"email"`
	BusinessName string      `json:"business_name"`
	BankDetails  bankDetails `json:"bank_details"`
}

// ProfileHandler returns the caller's profile with bank details decrypted.
func ProfileHandler(gdb *gorm.DB, v *vault.Vault, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := identity.UserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var user models.User
		if err := gdb.WithContext(r.Context()).First(&user, "id = ?", userID).Error; err != nil {
			logger.Error("failed to load user", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		plain, err := v.DecryptFields(map[string]string{
			"bank_name":      user.BankName,
			"bsb":            user.BankBSB,
			"account_number": user.BankAccountNumber,
			"account_name":   user.BankAccountName,
		})
		if err != nil {
			logger.Error("failed to decrypt bank details",
				zap.String("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, profileResponse{
			Email:        user.Email,
			BusinessName: user.BusinessName,
			BankDetails: bankDetails{
				BankName:      plain["bank_name"],
				BSB:           plain["bsb"],
				AccountNumber: plain["account_number"],
				AccountName:   plain["account_name"],
			},
		})
	}
}

// UpdateBankDetailsHandler stores the caller's bank details, each present
// field encrypted independently. Empty fields clear the stored value.
func UpdateBankDetailsHandler(gdb *gorm.DB, v *vault.Vault, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := identity.UserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req bankDetails
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		enc, err := v.EncryptFields(map[string]string{
			"bank_name":      req.BankName,
			"bsb":            req.BSB,
			"account_number": req.AccountNumber,
			"account_name":   req.AccountName,
		})
		if err != nil {
			logger.Error("failed to encrypt bank details",
				zap.String("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		err = gdb.WithContext(r.Context()).Model(&models.User{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"bank_name":           enc["bank_name"],
				"bank_bsb":            enc["bsb"],
				"bank_account_number": enc["account_number"],
				"bank_account_name":   enc["account_name"],
			}).Error
		if err != nil {
			logger.Error("failed to save bank details", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	}
}
