package handler

import (
	"net/http"

	"emrcore/internal/middleware"
	"emrcore/internal/service"
	"emrcore/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	userService service.UserService
	cookies     middleware.CookieOptions
}

// NewAuthHandler sets up the routing dependencies for account and session endpoints
func NewAuthHandler(userService service.UserService, cookies middleware.CookieOptions) *AuthHandler {
	return &AuthHandler{userService: userService, cookies: cookies}
}

// RegisterRoutes binds the public auth endpoints and the authenticated /me endpoint
func (h *AuthHandler) RegisterRoutes(public, authed *gin.RouterGroup) {
	auth := public.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)
	}
	authed.GET("/me", h.GetMe)
}

// Register creates a new account
// @Summary      Register
// @Description  Creates a user account. Clinic access is granted separately.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.RegisterRequest  true  "Account"
// @Success      201      {object}  response.Response{data=service.UserResponse}
// @Failure      422      {object}  response.Response
// @Router       /api/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}
	user, err := h.userService.Register(c.Request.Context(), req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(user))
}

// Login authenticates a user
// @Summary      Login
// @Description  Verifies credentials and sets access and refresh token cookies
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.LoginUserRequest  true  "Credentials"
// @Success      200      {object}  response.Response{data=service.TokenResponse}
// @Failure      401      {object}  response.Response
// @Router       /api/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req service.LoginUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}
	tokens, err := h.userService.Login(c.Request.Context(), req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	middleware.SetTokenCookies(c, h.cookies, tokens.AccessToken, tokens.RefreshToken)
	c.JSON(http.StatusOK, response.Success(tokens))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func refreshTokenFrom(c *gin.Context) string {
	if token, err := c.Cookie("refresh_token"); err == nil && token != "" {
		return token
	}
	var req refreshRequest
	_ = c.ShouldBindJSON(&req)
	return req.RefreshToken
}

// Refresh rotates the refresh token
// @Summary      Refresh session
// @Description  Exchanges a refresh token (cookie or body) for a new token pair
// @Tags         auth
// @Produce      json
// @Success      200  {object}  response.Response{data=service.TokenResponse}
// @Failure      401  {object}  response.Response
// @Router       /api/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	tokens, err := h.userService.Refresh(c.Request.Context(), refreshTokenFrom(c))
	if err != nil {
		middleware.ClearTokenCookies(c, h.cookies)
		middleware.AbortWithError(c, err)
		return
	}
	middleware.SetTokenCookies(c, h.cookies, tokens.AccessToken, tokens.RefreshToken)
	c.JSON(http.StatusOK, response.Success(tokens))
}

// Logout revokes the refresh token
// @Summary      Logout
// @Tags         auth
// @Produce      json
// @Success      200  {object}  response.Response
// @Router       /api/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.userService.Logout(c.Request.Context(), refreshTokenFrom(c)); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	middleware.ClearTokenCookies(c, h.cookies)
	c.JSON(http.StatusOK, response.Message("Logged out"))
}

// GetMe returns the caller with their clinics, roles and permissions
// @Summary      Current user
// @Tags         auth
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=service.UserResponse}
// @Router       /api/me [get]
func (h *AuthHandler) GetMe(c *gin.Context) {
	me, err := h.userService.Me(c.Request.Context(), middleware.CurrentPrincipal(c))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(me))
}
