package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
	"github.com/aussiebroadwan/gatehouse/internal/auth/service"
	"github.com/aussiebroadwan/gatehouse/pkg/httpx"
	"github.com/aussiebroadwan/gatehouse/pkg/jwtx"
	"github.com/aussiebroadwan/gatehouse/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	limiters     *httpx.Limiters
	db           Pinger

	// ChallengeStore is pinged by /readyz when challenges live outside the
	// database.
	ChallengeStore Pinger

	// TrustedProxies may report the client address in forwarding headers.
	// Nil trusts none.
	TrustedProxies *httpx.TrustedProxies

	// WebhookSecret enables the SMS delivery webhook.
	WebhookSecret string

	// Now overrides the clock used in responses.
	Now func() time.Time

	AuthService    *service.AuthService
	AdminService   *service.AdminService
	OTPService     *service.OTPService
	SessionService *service.SessionService
}

func NewRouter(
	buildVersion string,
	db Pinger,
	limiters *httpx.Limiters,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		limiters:     limiters,
		db:           db,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.middlewares = append(r.middlewares, httpx.ClientIPMiddleware(r.TrustedProxies))

	r.registerStudents()
	r.registerAdmins()
	r.registerSMS()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) studentAuthn() httpx.Middleware {
	return httpx.AuthnMiddleware(httpx.CredentialValidatorFunc(r.SessionService.ValidateStudent))
}

func (r *Router) adminAuthn() httpx.Middleware {
	return httpx.AuthnMiddleware(httpx.CredentialValidatorFunc(r.SessionService.ValidateAdmin))
}

func (r *Router) registerStudents() {
	h := &StudentHandler{AuthService: r.AuthService, Now: r.Now}
	ls := r.limiters

	r.Mux.Handle("POST /v1/auth/register",
		httpx.Chain(http.HandlerFunc(h.HandleRegister),
			ls.General.Middleware(),
			ls.Registration.Middleware(),
		),
	)
	r.Mux.Handle("POST /v1/auth/resend-registration-otp",
		httpx.Chain(http.HandlerFunc(h.HandleResendRegistration),
			ls.General.Middleware(),
			ls.OTP.Middleware(),
		),
	)
	// Code guessing is bounded per challenge, and per mobile number here.
	r.Mux.Handle("POST /v1/auth/verify-registration",
		httpx.Chain(http.HandlerFunc(h.HandleVerifyRegistration),
			ls.General.Middleware(),
			ls.Auth.Middleware(),
		),
	)
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			ls.General.Middleware(),
			ls.Login.Middleware(),
		),
	)
	r.Mux.Handle("POST /v1/auth/forgot-password",
		httpx.Chain(http.HandlerFunc(h.HandleForgotPassword),
			ls.General.Middleware(),
			ls.PasswordReset.Middleware(),
		),
	)
	r.Mux.Handle("POST /v1/auth/resend-forgot-password-otp",
		httpx.Chain(http.HandlerFunc(h.HandleResendForgotPassword),
			ls.General.Middleware(),
			ls.OTP.Middleware(),
		),
	)
	r.Mux.Handle("POST /v1/auth/reset-password",
		httpx.Chain(http.HandlerFunc(h.HandleResetPassword),
			ls.General.Middleware(),
			ls.PasswordReset.Middleware(),
		),
	)

	secured := func(h http.HandlerFunc) http.Handler {
		return httpx.Chain(h,
			r.studentAuthn(),
			httpx.RequireKind(jwtx.KindStudent),
			ls.General.Middleware(),
		)
	}
	r.Mux.Handle("POST /v1/auth/logout", secured(h.HandleLogout))
	r.Mux.Handle("GET /v1/auth/profile", secured(h.HandleProfile))
}

func (r *Router) registerAdmins() {
	h := &AdminHandler{
		AdminService: r.AdminService,
		OTPService:   r.OTPService,
		Limiters:     r.limiters,
		Now:          r.Now,
	}
	ls := r.limiters

	// One-time setup - strict limit by IP
	r.Mux.Handle("POST /v1/admin/setup",
		httpx.Chain(http.HandlerFunc(h.HandleSetup),
			ls.Strict.Middleware(),
		),
	)
	r.Mux.Handle("POST /v1/admin/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			ls.General.Middleware(),
			ls.Login.Middleware(),
		),
	)

	// Any staff role
	staff := func(h http.HandlerFunc) http.Handler {
		return httpx.Chain(h,
			r.adminAuthn(),
			httpx.RequireKind(jwtx.KindAdmin),
			ls.General.Middleware(),
		)
	}
	r.Mux.Handle("POST /v1/admin/logout", staff(h.HandleLogout))
	r.Mux.Handle("GET /v1/admin/sessions", staff(h.HandleListSessions))
	r.Mux.Handle("DELETE /v1/admin/sessions/{sessionId}", staff(h.HandleTerminateSession))
	r.Mux.Handle("GET /v1/admin/otp/stats", staff(h.HandleOTPStats))
	r.Mux.Handle("GET /v1/admin/ratelimit/stats", staff(h.HandleRateLimitStats))

	// Account management - strict limit by IP and admin
	manage := func(h http.HandlerFunc, roles ...string) http.Handler {
		return httpx.Chain(h,
			r.adminAuthn(),
			httpx.RequireKind(jwtx.KindAdmin),
			httpx.RequireAnyRole(roles...),
			ls.Strict.Middleware(),
		)
	}
	r.Mux.Handle("POST /v1/admin/admins",
		manage(h.HandleCreateAdmin, domain.RoleSuperAdmin))
	r.Mux.Handle("PUT /v1/admin/admins/{adminId}/reset-password",
		manage(h.HandleResetAdminPassword, domain.RoleSuperAdmin))
	r.Mux.Handle("PUT /v1/admin/admins/{adminId}/status",
		manage(h.HandleSetAdminStatus, domain.RoleSuperAdmin))
	r.Mux.Handle("PUT /v1/admin/students/{studentId}/status",
		manage(h.HandleSetStudentStatus, domain.RoleSuperAdmin, domain.RoleAdmin))
	r.Mux.Handle("DELETE /v1/admin/ratelimit/{limiter}/keys/{key}",
		manage(h.HandleClearRateLimit, domain.RoleSuperAdmin, domain.RoleAdmin))
	r.Mux.Handle("DELETE /v1/admin/ratelimit/{limiter}",
		manage(h.HandleClearRateLimit, domain.RoleSuperAdmin))
}

func (r *Router) registerSMS() {
	h := &DeliveryHandler{OTPService: r.OTPService, Secret: r.WebhookSecret}
	r.Mux.Handle("POST /v1/sms/delivery", httpx.Chain(h, r.limiters.General.Middleware()))
}

func (r *Router) registerSystem() {
	// Health checks are not rate limited; probes poll them constantly.
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.db, r.ChallengeStore))
}
