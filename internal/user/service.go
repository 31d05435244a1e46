package user

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"go-messenger/internal/models"
	"go-messenger/internal/store"
)

type Service struct {
	store     store.Store
	jwtSecret string
}

type Claims struct {
	ID       int    `json:"id"`
	Fullname string `json:"fullname"`
	jwt.RegisteredClaims
}

func NewService(st store.Store, secret string) *Service {
	return &Service{
		store:     st,
		jwtSecret: secret,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*models.User, error) {
	if req.Fullname == "" || req.Email == "" || req.Password == "" {
		return nil, errors.New("fullname, email and password are required")
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &models.User{
		Fullname: req.Fullname,
		Email:    req.Email,
		Password: string(hashedPwd),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	u, err := s.store.UserByFullname(ctx, req.Fullname)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:       u.ID,
		Fullname: u.Fullname,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "go-messenger",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	})

	ss, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Fullname:    u.Fullname,
	}, nil
}

// ValidateToken verifies signature and expiry and returns the embedded
// subject. It is the verification half of the auth boundary; issuance
// stays in Login above.
func (s *Service) ValidateToken(tokenString string) (int, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return 0, "", err
	}
	if !token.Valid {
		return 0, "", errors.New("invalid token")
	}
	return claims.ID, claims.Fullname, nil
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]models.User, error) {
	return s.store.SearchUsers(ctx, query)
}
