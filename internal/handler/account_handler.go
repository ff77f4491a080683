package handler

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/mandate-engine/internal/domain"
	"github.com/kursadbilgin/mandate-engine/internal/provider"
)

type AccountHandler struct {
	accounts provider.AccountFetcher
}

func NewAccountHandler(accounts provider.AccountFetcher) (*AccountHandler, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account fetcher is required")
	}
	return &AccountHandler{accounts: accounts}, nil
}

func RegisterAccountRoutes(router fiber.Router, accounts provider.AccountFetcher) error {
	h, err := NewAccountHandler(accounts)
	if err != nil {
		return err
	}

	router.Group("/v1").Post("/accounts/lookup", h.Lookup)
	return nil
}

type accountLookupRequest struct {
	MobileNumber string `json:"mobileNumber"`
	Consent      bool   `json:"consent"`
}

type accountResponse struct {
	Name          string `json:"name"`
	AccountNumber string `json:"accountNumber"`
	IFSC          string `json:"ifsc"`
	UPIVPA        string `json:"upiVpa"`
	TxnID         string `json:"txnId"`
	Amount        string `json:"amount"`
}

func (h *AccountHandler) Lookup(c *fiber.Ctx) error {
	var req accountLookupRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if !req.Consent {
		return toHTTPError(fmt.Errorf("%w: consent is required", domain.ErrValidation))
	}
	mobile := strings.TrimSpace(req.MobileNumber)
	if err := domain.ValidateMobileNumber(mobile); err != nil {
		return toHTTPError(err)
	}

	details, err := h.accounts.Lookup(c.UserContext(), mobile)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(accountResponse{
		Name:          details.Name,
		AccountNumber: details.AccountNumber,
		IFSC:          details.IFSC,
		UPIVPA:        details.UPIVPA,
		TxnID:         details.TxnID,
		Amount:        details.Amount,
	})
}
