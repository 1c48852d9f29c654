package httpapi

import (
	"net/http"
	"time"

	"gamegate.org/internal/audit"
	"gamegate.org/internal/auth"
	"gamegate.org/internal/obs"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Role     string `json:"role" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,min=16"`
}

type verifySecondFactorRequest struct {
	StepUpToken string `json:"step_up_token" validate:"required"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=128"`
}

type passwordStrengthRequest struct {
	Password string `json:"password" validate:"required"`
}

type confirmTwoFactorRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type accountView struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Role             string     `json:"role"`
	Active           bool       `json:"is_active"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

func viewAccount(a *auth.Account) accountView {
	v := accountView{
		ID:               a.ID,
		Email:            a.Email,
		Role:             a.Role,
		Active:           a.Active,
		TwoFactorEnabled: a.TwoFactorEnabled,
		CreatedAt:        a.CreatedAt,
	}
	if !a.UpdatedAt.IsZero() {
		t := a.UpdatedAt
		v.UpdatedAt = &t
	}
	return v
}

func tokenPayload(pair *auth.TokenPair, account *auth.Account) map[string]any {
	return map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "bearer",
		"expires_in":    int(time.Until(pair.AccessExpiresAt).Seconds()),
		"user":          viewAccount(account),
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	account, err := a.svc.Register(r.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRegister, map[string]any{
		"email": account.Email,
		"role":  account.Role,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "account registered",
		"data":    viewAccount(account),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	res, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		obs.CountLogin("failure")
		_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{
			"email": req.Email,
		})
		writeServiceError(w, err)
		return
	}

	if res.Challenge != nil {
		obs.CountLogin("step_up")
		_ = audit.LogEvent(r.Context(), audit.EventStepUpChallenged, map[string]any{
			"email": res.Account.Email,
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"message":      "second factor required",
			"requires_2fa": true,
			"data": map[string]any{
				"step_up_token": res.Challenge.Token,
				"expires_in":    int(time.Until(res.Challenge.ExpiresAt).Seconds()),
			},
		})
		return
	}

	obs.CountLogin("success")
	obs.CountRefreshIssued()
	_ = audit.LogEvent(r.Context(), audit.EventLogin, map[string]any{
		"email":      res.Account.Email,
		"two_factor": false,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "login successful",
		"data":    tokenPayload(res.Pair, res.Account),
	})
}

func (a *API) handleVerifySecondFactor(w http.ResponseWriter, r *http.Request) {
	var req verifySecondFactorRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	res, err := a.svc.VerifySecondFactor(r.Context(), req.StepUpToken, req.Code)
	if err != nil {
		obs.CountLogin("step_up_failure")
		writeServiceError(w, err)
		return
	}
	obs.CountLogin("success")
	obs.CountRefreshIssued()
	_ = audit.LogEvent(r.Context(), audit.EventStepUpCompleted, map[string]any{
		"email": res.Account.Email,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "login successful",
		"data":    tokenPayload(res.Pair, res.Account),
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	pair, account, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	obs.CountRefreshIssued()
	_ = audit.LogEvent(r.Context(), audit.EventRefresh, map[string]any{
		"email": account.Email,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "tokens refreshed",
		"data":    tokenPayload(pair, account),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r.Context())
	count, err := a.svc.Logout(r.Context(), account.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventLogout, map[string]any{
		"sessions_revoked": count,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "logged out",
		"data":    map[string]any{"sessions_revoked": count},
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r.Context())
	sessions, err := a.svc.Sessions().ActiveSessions(r.Context(), account.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, map[string]any{
			"id":         s.ID,
			"created_at": s.CreatedAt.UTC().Format(time.RFC3339),
			"expires_at": s.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    out,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    viewAccount(account),
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	account := auth.AccountFromContext(r.Context())
	if err := a.svc.ChangePassword(r.Context(), account, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventPasswordChanged, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "password changed; all sessions revoked",
	})
}

func (a *API) handlePasswordStrength(w http.ResponseWriter, r *http.Request) {
	var req passwordStrengthRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	problems := auth.ValidatePasswordStrength(req.Password)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"acceptable": len(problems) == 0,
			"problems":   problems,
		},
	})
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.svc.Roles(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(roles))
	for _, role := range roles {
		out = append(out, map[string]any{
			"name":        role.Name,
			"description": role.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    out,
	})
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request) {
	role := r.PathValue("role")
	grants := a.engine.Table().Grants(role)
	if grants == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "unknown role")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"role":        role,
			"permissions": grants,
		},
	})
}

func (a *API) handleEnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r.Context())
	enrollment, err := a.svc.EnableTwoFactor(r.Context(), account)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "scan the QR code and confirm with one code",
		"data": map[string]any{
			"secret":           enrollment.Secret,
			"provisioning_uri": enrollment.ProvisioningURI,
			"manual_entry_key": enrollment.ManualEntryKey,
		},
	})
}

func (a *API) handleConfirmTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req confirmTwoFactorRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	account := auth.AccountFromContext(r.Context())
	if err := a.svc.ConfirmTwoFactor(r.Context(), account, req.Code); err != nil {
		writeServiceError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventTwoFactorEnabled, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "two-factor authentication enabled",
	})
}

func (a *API) handleTwoFactorStatus(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r.Context())
	data := map[string]any{
		"enabled": account.TwoFactorEnabled,
		"method":  account.TwoFactorMethod,
	}
	if account.TwoFactorConfirmedAt != nil {
		data["confirmed_at"] = account.TwoFactorConfirmedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
	})
}

func (a *API) handleDisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r.Context())
	if err := a.svc.DisableTwoFactor(r.Context(), account); err != nil {
		writeServiceError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventTwoFactorDisabled, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "two-factor authentication disabled",
	})
}
