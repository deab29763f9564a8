package controllers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"fleettrack/internal/middleware"
	"fleettrack/internal/models"
)

// AuthController provisions device credentials and exchanges them for
// producer tokens. Dashboard user tokens are minted by the identity
// service upstream; here we only handle device identities.
type AuthController struct {
	db       *gorm.DB
	tokenTTL time.Duration
}

func NewAuthController(db *gorm.DB, tokenTTL time.Duration) *AuthController {
	return &AuthController{db: db, tokenTTL: tokenTTL}
}

type provisionInput struct {
	VehicleID string `json:"vehicle_id" binding:"required"`
	DriverID  string `json:"driver_id"`
}

// ProvisionDevice registers a device credential for a vehicle and returns
// the plaintext secret exactly once. Admins may provision into any tenant
// via the tenant_id field.
func (ctl *AuthController) ProvisionDevice(c *gin.Context) {
	var input struct {
		provisionInput
		TenantID string `json:"tenant_id"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := middleware.ClaimsFrom(c)
	tenantID := claims.TenantID
	if claims.Role == middleware.RoleAdmin && input.TenantID != "" {
		tenantID = input.TenantID
	}

	secret, err := newDeviceSecret()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not generate secret"})
		return
	}
	hash, err := hashSecret(secret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not hash secret"})
		return
	}

	cred := models.DeviceCredential{
		TenantID:   tenantID,
		VehicleID:  input.VehicleID,
		DriverID:   input.DriverID,
		SecretHash: hash,
	}
	if err := ctl.db.Create(&cred).Error; err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			c.JSON(http.StatusConflict, gin.H{"error": "vehicle already has a credential"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create credential: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"credential": cred,
		"secret":     secret,
	})
}

// IssueDeviceToken exchanges a vehicle_id + secret for a short-lived
// producer token carrying the device's identity claims.
func (ctl *AuthController) IssueDeviceToken(c *gin.Context) {
	var body struct {
		VehicleID string `json:"vehicle_id" binding:"required"`
		Secret    string `json:"secret" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var cred models.DeviceCredential
	if err := ctl.db.Where("vehicle_id = ?", body.VehicleID).First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown vehicle or invalid credentials"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error: " + err.Error()})
		}
		return
	}
	if cred.Disabled {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "credential disabled"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.SecretHash), []byte(body.Secret)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown vehicle or invalid credentials"})
		return
	}

	token, err := middleware.GenerateToken(middleware.Claims{
		TenantID:  cred.TenantID,
		Role:      middleware.RoleProducer,
		VehicleID: cred.VehicleID,
		DriverID:  cred.DriverID,
	}, ctl.tokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(ctl.tokenTTL.Seconds()),
	})
}

// RevokeDeviceCredential disables a credential so the device can no
// longer mint tokens. Existing tokens expire on their own.
func (ctl *AuthController) RevokeDeviceCredential(c *gin.Context) {
	vehicleID := c.Param("vehicle_id")

	claims := middleware.ClaimsFrom(c)
	query := ctl.db.Model(&models.DeviceCredential{}).Where("vehicle_id = ?", vehicleID)
	if claims.Role != middleware.RoleAdmin {
		query = query.Where("tenant_id = ?", claims.TenantID)
	}

	res := query.Update("disabled", true)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not revoke credential: " + res.Error.Error()})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "credential not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "credential revoked"})
}

func newDeviceSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
