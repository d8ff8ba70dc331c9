package service

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ngirimana/finindex/internal/domain"
	"github.com/ngirimana/finindex/internal/finapi"
	"github.com/ngirimana/finindex/internal/session"
)

// ErrNotVerified is returned when an account has not been verified yet.
var ErrNotVerified = errors.New("your account is awaiting verification")

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	otpPattern   = regexp.MustCompile(`^[0-9]{6}$`)
)

// MinPasswordLength is enforced on self-registration.
const MinPasswordLength = 6

// AuthService signs users in and out and runs self-registration.
type AuthService struct {
	api      *finapi.API
	sessions *session.Store
	logger   *slog.Logger
}

// Login exchanges credentials for a session. A response for an unverified
// account is refused and no session is stored.
func (s *AuthService) Login(ctx context.Context, creds domain.Credentials) (session.Session, Notice, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" || creds.Password == "" {
		err := invalid("Email and password are required")
		return session.Session{}, Failure(err, ""), err
	}
	res, err := s.api.Login(ctx, creds)
	if err != nil {
		return session.Session{}, Failure(err, "Something went wrong."), err
	}
	if res.Token == "" {
		err := errors.New("login response carried no token")
		return session.Session{}, Failure(err, "Something went wrong."), err
	}
	if !res.User.IsVerified {
		s.logger.Info("login refused for unverified account", "email", creds.Email)
		return session.Session{}, Notice{Kind: NoticeError, Message: "Please verify your email before signing in."}, ErrNotVerified
	}
	sess := session.Session{User: res.User, Token: res.Token}
	if err := s.sessions.Set(ctx, sess); err != nil {
		return session.Session{}, Failure(err, "Failed to save session"), err
	}
	s.logger.Info("signed in", "email", res.User.Email, "role", res.User.Role)
	return sess, Success("Signed in as " + res.User.DisplayName()), nil
}

// Logout clears the session.
func (s *AuthService) Logout(ctx context.Context) (Notice, error) {
	if err := s.sessions.Clear(ctx); err != nil {
		return Failure(err, "Failed to sign out"), err
	}
	return Success("Signed out."), nil
}

// Current returns the signed-in session, if any.
func (s *AuthService) Current() (session.Session, bool) {
	return s.sessions.Get()
}

// Me refreshes the signed-in profile from the API.
func (s *AuthService) Me(ctx context.Context) (domain.User, error) {
	if _, ok := s.sessions.Get(); !ok {
		return domain.User{}, ErrUnauthenticated
	}
	return s.api.Me(ctx)
}

// RegisterForm is the self-service sign-up form.
type RegisterForm struct {
	FirstName       string      `json:"firstName"`
	LastName        string      `json:"lastName"`
	Email           string      `json:"email"`
	Password        string      `json:"password"`
	ConfirmPassword string      `json:"confirmPassword"`
	Country         string      `json:"country"`
	Organization    string      `json:"organization"`
	JobTitle        string      `json:"jobTitle"`
	PhoneNumber     string      `json:"phoneNumber"`
	Role            domain.Role `json:"role"`
}

// Validate checks the form in the order the user sees the messages and
// returns the registration payload.
func (f RegisterForm) Validate() (domain.Registration, error) {
	first := strings.TrimSpace(f.FirstName)
	last := strings.TrimSpace(f.LastName)
	country := strings.TrimSpace(f.Country)
	email := strings.TrimSpace(f.Email)

	if first == "" || last == "" || country == "" {
		return domain.Registration{}, invalid("Please fill in all required fields")
	}
	if f.Password == "" || f.ConfirmPassword == "" {
		return domain.Registration{}, invalid("Password and confirmation are required")
	}
	if len(f.Password) < MinPasswordLength {
		return domain.Registration{}, invalid("Password must be at least 6 characters long")
	}
	if f.Password != f.ConfirmPassword {
		return domain.Registration{}, invalid("Passwords do not match")
	}
	if !emailPattern.MatchString(email) {
		return domain.Registration{}, invalid("Please enter a valid email address")
	}
	role := f.Role
	if role == "" {
		role = domain.RoleViewer
	}
	if role != domain.RoleViewer && role != domain.RoleEditor {
		return domain.Registration{}, invalid("Please choose a valid role")
	}
	return domain.Registration{
		Name:         first + " " + last,
		Email:        email,
		Password:     f.Password,
		Role:         role,
		Country:      country,
		Organization: strings.TrimSpace(f.Organization),
		JobTitle:     strings.TrimSpace(f.JobTitle),
		PhoneNumber:  strings.TrimSpace(f.PhoneNumber),
		IsVerified:   false,
	}, nil
}

// Register submits a validated sign-up and remembers the email for the
// verification step.
func (s *AuthService) Register(ctx context.Context, f RegisterForm) (Notice, error) {
	reg, err := f.Validate()
	if err != nil {
		return Failure(err, ""), err
	}
	if _, err := s.api.Register(ctx, reg); err != nil {
		return Failure(err, "Something went wrong."), err
	}
	if err := s.sessions.SetPendingEmail(ctx, reg.Email); err != nil {
		s.logger.Warn("remembering pending email failed", "error", err)
	}
	return Success("Registration successful. Wait for admin verification."), nil
}

// PendingEmail is the address awaiting the one-time code.
func (s *AuthService) PendingEmail(ctx context.Context) (string, bool) {
	email, ok, err := s.sessions.PendingEmail(ctx)
	if err != nil {
		s.logger.Warn("reading pending email failed", "error", err)
		return "", false
	}
	return email, ok
}

// VerifyEmail confirms the pending registration with the emailed code.
func (s *AuthService) VerifyEmail(ctx context.Context, otp string) (Notice, error) {
	email, ok := s.PendingEmail(ctx)
	if !ok {
		err := invalid("We couldn't find your email. Please go back to registration and try again.")
		return Failure(err, ""), err
	}
	otp = strings.TrimSpace(otp)
	if !otpPattern.MatchString(otp) {
		err := invalid("Please enter all 6 digits of the verification code.")
		return Failure(err, ""), err
	}
	msg, err := s.api.VerifyEmail(ctx, email, otp)
	if err != nil {
		return Failure(err, "The verification code is invalid or has expired. Please try again."), err
	}
	if err := s.sessions.ClearPendingEmail(ctx); err != nil {
		s.logger.Warn("clearing pending email failed", "error", err)
	}
	if msg == "" {
		msg = "Email verified. You can now sign in."
	}
	return Success(msg), nil
}
