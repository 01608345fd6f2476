package router

import (
	"net/http"

	"github.com/craftmarket/backend/internal/auth"
	"github.com/craftmarket/backend/internal/handlers"
	"github.com/craftmarket/backend/internal/middleware"
	"github.com/craftmarket/backend/internal/validation"
)

// Deps bundles the handlers and middleware dependencies of the /api/v1 surface.
type Deps struct {
	Auth      *auth.Handler
	Tokens    middleware.TokenValidator
	Validator middleware.BodyValidator
	// Limiter is optional; without it requests are not rate limited.
	Limiter *middleware.RateLimiter

	Balance  *handlers.BalanceHandler
	Products *handlers.ProductHandler
	Orders   *handlers.OrderHandler
	Jobs     *handlers.JobHandler
}

const base = "/api/v1"

// New returns a mux serving the API under /api/v1. Middleware is attached per
// route so the mux has already recorded the matched pattern when it runs.
func New(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	limit := func(h http.Handler) http.Handler {
		if d.Limiter == nil {
			return h
		}
		return d.Limiter.Handler(h)
	}
	authn := middleware.Authenticate(d.Tokens)
	body := func(schema string) func(http.Handler) http.Handler {
		return middleware.ValidateBody(d.Validator, schema)
	}

	public := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, limit(h))
	}
	private := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authn(limit(h)))
	}
	privateBody := func(pattern, schema string, h http.HandlerFunc) {
		mux.Handle(pattern, authn(limit(body(schema)(h))))
	}

	mux.Handle("POST "+base+"/auth/register", limit(body(validation.SchemaRegister)(http.HandlerFunc(d.Auth.Register))))
	mux.Handle("POST "+base+"/auth/login", limit(body(validation.SchemaLogin)(http.HandlerFunc(d.Auth.Login))))

	private("GET "+base+"/balance", d.Balance.Get)
	private("GET "+base+"/balance/history", d.Balance.History)
	privateBody("POST "+base+"/balance/top-up", validation.SchemaTopUp, d.Balance.TopUp)

	public("GET "+base+"/products", d.Products.List)
	public("GET "+base+"/products/{id}", d.Products.Get)
	private("GET "+base+"/products/purchased", d.Products.Purchased)
	privateBody("POST "+base+"/products", validation.SchemaProduct, d.Products.Create)
	private("POST "+base+"/products/{id}/buy", d.Products.Buy)

	private("GET "+base+"/orders", d.Orders.List)
	privateBody("POST "+base+"/orders", validation.SchemaOrder, d.Orders.Create)
	private("GET "+base+"/orders/{id}", d.Orders.Get)
	private("GET "+base+"/orders/{id}/status", d.Orders.Status)
	private("DELETE "+base+"/orders/{id}", d.Orders.Delete)
	private("POST "+base+"/orders/{id}/approve", d.Orders.Approve)
	private("GET "+base+"/orders/{id}/offers", d.Orders.ListOffers)
	privateBody("POST "+base+"/orders/{id}/offers", validation.SchemaOffer, d.Orders.PostOffer)
	private("POST "+base+"/orders/{id}/offers/{offerID}/accept", d.Orders.AcceptOffer)
	private("DELETE "+base+"/offers/{id}", d.Orders.DeclineOffer)

	private("GET "+base+"/jobs/{id}", d.Jobs.Get)
	private("GET "+base+"/jobs/{id}/progress", d.Jobs.ListProgress)
	privateBody("POST "+base+"/jobs/{id}/progress", validation.SchemaProgress, d.Jobs.SetProgress)
	privateBody("POST "+base+"/jobs/{id}/complete", validation.SchemaCompletion, d.Jobs.Complete)
	privateBody("POST "+base+"/jobs/{id}/request-changes", validation.SchemaChanges, d.Jobs.RequestChanges)
	private("POST "+base+"/jobs/{id}/abandon", d.Jobs.Abandon)

	return mux
}
