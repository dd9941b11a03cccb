package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	contingencydomain "github.com/smallbiznis/possync/internal/contingency/domain"
	salesdomain "github.com/smallbiznis/possync/internal/sales/domain"
)

type startContingencyRequest struct {
	UserID snowflake.ID `json:"userId" binding:"required"`
}

type createQuoteRequest struct {
	RUT             string                    `json:"rut" binding:"required"`
	Amount          int64                     `json:"amount" binding:"required"`
	Installments    int                       `json:"installments" binding:"required"`
	Interest        decimal.Decimal           `json:"interest"`
	DownPayment     int64                     `json:"downPayment"`
	DeferredPayment int                       `json:"deferredPayment"`
	PaymentMethod   salesdomain.PaymentMethod `json:"paymentMethod"`
	TBKNumber       string                    `json:"tbkNumber"`
	BillingDate     *time.Time                `json:"billingDate"`
}

type acceptQuoteRequest struct {
	Folio    string        `json:"folio" binding:"required"`
	UserID   *snowflake.ID `json:"userId"`
	DeviceID *snowflake.ID `json:"deviceId"`
}

type registerPaymentRequest struct {
	RUT           string                    `json:"rut" binding:"required"`
	Amount        int64                     `json:"amount" binding:"required"`
	PaymentMethod salesdomain.PaymentMethod `json:"paymentMethod" binding:"required"`
	VoucherID     string                    `json:"voucherId"`
	UserID        *snowflake.ID             `json:"userId"`
	DeviceID      *snowflake.ID             `json:"deviceId"`
}

func (s *Server) GetOpenContingency(c *gin.Context) {
	open, err := s.contingency.GetOpen(c.Request.Context(), contingencydomain.Scope{})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contingency": open})
}

func (s *Server) StartContingency(c *gin.Context) {
	var req startContingencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	contingency, err := s.contingency.Start(c.Request.Context(), contingencydomain.StartRequest{UserID: req.UserID})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"contingency": contingency})
}

func (s *Server) EndContingency(c *gin.Context) {
	contingency, err := s.contingency.End(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contingency": contingency})
}

func (s *Server) GetClient(c *gin.Context) {
	client, err := s.clients.Get(c.Request.Context(), c.Param("rut"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": client})
}

func (s *Server) CreateQuote(c *gin.Context) {
	var req createQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	quote, err := s.sales.CreateQuote(c.Request.Context(), salesdomain.CreateQuoteRequest{
		RUT:             req.RUT,
		Amount:          req.Amount,
		Installments:    req.Installments,
		Interest:        req.Interest,
		DownPayment:     req.DownPayment,
		DeferredPayment: req.DeferredPayment,
		PaymentMethod:   req.PaymentMethod,
		TBKNumber:       req.TBKNumber,
		BillingDate:     req.BillingDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"quote": quote})
}

func (s *Server) AcceptQuote(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid quote id"))
		return
	}
	var req acceptQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sale, err := s.sales.AcceptQuote(c.Request.Context(), salesdomain.AcceptQuoteRequest{
		QuoteID:  id,
		Folio:    req.Folio,
		UserID:   req.UserID,
		DeviceID: req.DeviceID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sale": sale})
}

func (s *Server) GetSale(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid sale id"))
		return
	}
	sale, err := s.sales.GetSale(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sale": sale})
}

func (s *Server) RegisterPayment(c *gin.Context) {
	var req registerPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payment, err := s.sales.RegisterPayment(c.Request.Context(), salesdomain.RegisterPaymentRequest{
		RUT:           req.RUT,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		VoucherID:     req.VoucherID,
		UserID:        req.UserID,
		DeviceID:      req.DeviceID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment": payment})
}
