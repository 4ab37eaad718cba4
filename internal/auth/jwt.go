package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongSession = errors.New("token issued for another session")
)

// Token scopes.
const (
	ScopeAccess  = "access"
	ScopeSession = "session"
)

// Claims holds JWT claims. Access tokens identify a host; session tokens additionally bind SessionID
// and authorize host-only realtime commands for that session.
type Claims struct {
	HostID    uuid.UUID `json:"host_id"`
	Email     string    `json:"email,omitempty"`
	Scope     string    `json:"scope"`
	SessionID uuid.UUID `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTService handles token generation and validation.
type JWTService struct {
	secret             []byte
	expireHours        int
	sessionExpireHours int
}

// NewJWTService creates a JWT service.
func NewJWTService(secret string, expireHours, sessionExpireHours int) *JWTService {
	return &JWTService{
		secret:             []byte(secret),
		expireHours:        expireHours,
		sessionExpireHours: sessionExpireHours,
	}
}

// Generate creates an access token for the host.
func (s *JWTService) Generate(hostID uuid.UUID, email string) (string, error) {
	return s.sign(Claims{HostID: hostID, Email: email, Scope: ScopeAccess}, s.expireHours)
}

// GenerateHostToken creates the capability token handed to the host when a session is created.
func (s *JWTService) GenerateHostToken(hostID, sessionID uuid.UUID) (string, error) {
	return s.sign(Claims{HostID: hostID, Scope: ScopeSession, SessionID: sessionID}, s.sessionExpireHours)
}

func (s *JWTService) sign(claims Claims, hours int) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(hours) * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        uuid.New().String(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *JWTService) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Validate parses an access token, returning claims or error.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Scope != ScopeAccess {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyHost accepts a session token only for the session it was issued for.
func (s *JWTService) VerifyHost(tokenString string, sessionID uuid.UUID) error {
	claims, err := s.parse(tokenString)
	if err != nil {
		return err
	}
	if claims.Scope != ScopeSession {
		return ErrInvalidToken
	}
	if claims.SessionID != sessionID {
		return ErrWrongSession
	}
	return nil
}
