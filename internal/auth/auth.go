package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/tandogan/brokerage/internal/models"
	"github.com/tandogan/brokerage/internal/store"
)

// Service handles customer registration and authentication.
type Service struct {
	customers store.CustomerStore
	secret    []byte
	tokenTTL  time.Duration
}

// NewService creates an auth service signing tokens with secret.
func NewService(customers store.CustomerStore, secret string) *Service {
	return &Service{
		customers: customers,
		secret:    []byte(secret),
		tokenTTL:  24 * time.Hour,
	}
}

// Register creates a new customer with a hashed password and the CUSTOMER
// role. Admin accounts are provisioned out of band, never via registration.
func (s *Service) Register(ctx context.Context, username, password string) (*models.Customer, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username cannot be empty", models.ErrInvalidArgument)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password cannot be empty", models.ErrInvalidArgument)
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("%w: username too long (max 50 characters)", models.ErrInvalidArgument)
	}
	if len(password) > 100 {
		return nil, fmt.Errorf("%w: password too long (max 100 characters)", models.ErrInvalidArgument)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	customer, err := s.customers.CreateCustomer(ctx, username, string(hashedPassword), models.RoleCustomer)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return customer, nil
}

// Login verifies credentials and generates a JWT.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	customer, err := s.customers.CustomerByUsername(ctx, username)
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(customer.PasswordHash), []byte(password)); err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"customer_id": customer.ID,
		"username":    customer.Username,
		"role":        string(customer.Role),
		"exp":         time.Now().Add(s.tokenTTL).Unix(),
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// CustomerFromToken extracts the customer id and role from a JWT. Tokens
// without a role claim fall back to the CUSTOMER role.
func (s *Service) CustomerFromToken(tokenString string) (int64, models.Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return 0, "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, "", fmt.Errorf("invalid token")
	}
	customerID, ok := claims["customer_id"].(float64)
	if !ok {
		return 0, "", fmt.Errorf("invalid token claims")
	}
	role := models.RoleCustomer
	if r, ok := claims["role"].(string); ok && models.Role(r) == models.RoleAdmin {
		role = models.RoleAdmin
	}
	return int64(customerID), role, nil
}
