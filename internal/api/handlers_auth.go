package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"nepojang/internal/auth"
	"nepojang/internal/logging"
)

type agentSpec struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

type authenticateRequest struct {
	Username    *string    `json:"username"`
	Password    *string    `json:"password"`
	ClientToken *string    `json:"clientToken"`
	RequestUser bool       `json:"requestUser"`
	Agent       *agentSpec `json:"agent"`
}

func profileStub(id uuid.UUID, name string) gin.H {
	return gin.H{"id": auth.HexUUID(id), "name": name}
}

func sessionBody(session *auth.Session, requestUser bool) gin.H {
	body := gin.H{
		"accessToken": session.Bearer,
		"clientToken": auth.HexUUID(session.ClientToken.UUID),
	}
	if session.Profile != nil {
		body["selectedProfile"] = profileStub(session.Profile.UUID, session.Profile.Name)
	}
	if requestUser {
		body["user"] = gin.H{
			"id":       auth.HexUUID(session.Account.UUID),
			"username": session.Account.Username,
		}
	}
	return body
}

func (s *Server) authenticate(c *gin.Context) {
	var req authenticateRequest
	if !s.readJSON(c, &req) {
		return
	}
	if req.Username == nil || req.Password == nil {
		errNullMessage.abort(c)
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	ip := c.ClientIP()
	if s.failures.Blocked(ctx, *req.Username, ip) {
		errCredentialsRateLimit.abort(c)
		return
	}

	var clientTokenID *uuid.UUID
	if req.ClientToken != nil {
		id, err := uuid.Parse(*req.ClientToken)
		if err != nil {
			apiError{"IllegalArgumentException", err.Error(), http.StatusBadRequest}.abort(c)
			return
		}
		clientTokenID = &id
	}

	var agent string
	if req.Agent != nil {
		agent = req.Agent.Name
	}

	session, err := s.auth.Authenticate(ctx, *req.Username, *req.Password, clientTokenID, agent)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.failures.RecordFailure(ctx, *req.Username, ip)
			errInvalidCredentials.abort(c)
			return
		}
		s.log.Error("authenticate_failed", "error", err)
		errInvalidCredentials.abort(c)
		return
	}
	s.failures.Clear(ctx, *req.Username, ip)

	body := sessionBody(session, req.RequestUser)
	if session.Profile != nil {
		body["availableProfiles"] = []gin.H{profileStub(session.Profile.UUID, session.Profile.Name)}
	} else {
		body["availableProfiles"] = []gin.H{}
	}
	c.JSON(http.StatusOK, body)
}

type refreshRequest struct {
	AccessToken     *string         `json:"accessToken"`
	ClientToken     *string         `json:"clientToken"`
	RequestUser     bool            `json:"requestUser"`
	SelectedProfile json.RawMessage `json:"selectedProfile"`
}

func (s *Server) refresh(c *gin.Context) {
	var req refreshRequest
	if !s.readJSON(c, &req) {
		return
	}
	if req.ClientToken == nil {
		errNullClientToken.abort(c)
		return
	}
	if req.AccessToken == nil {
		errNullAccessToken.abort(c)
		return
	}
	// A refresh cannot pick a profile; the token keeps whichever one it has.
	if req.SelectedProfile != nil {
		errProfileAssigned.abort(c)
		return
	}

	// A bearer that does not decode is reported without the trailing period;
	// one that decodes but names no live session gets the period.
	if _, err := auth.ReadYggt(*req.AccessToken); err != nil {
		errInvalidToken.abort(c)
		return
	}
	clientTokenID, err := uuid.Parse(*req.ClientToken)
	if err != nil {
		errInvalidToken.abort(c)
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	session, err := s.auth.Refresh(ctx, *req.AccessToken, clientTokenID)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			s.log.Warn("refresh_rejected", "token", logging.MaskToken(*req.AccessToken))
		} else {
			s.log.Error("refresh_failed", "error", err)
		}
		errInvalidTokenGone.abort(c)
		return
	}

	c.JSON(http.StatusOK, sessionBody(session, req.RequestUser))
}

type validateRequest struct {
	AccessToken *string `json:"accessToken"`
	ClientToken *string `json:"clientToken"`
}

func (s *Server) validate(c *gin.Context) {
	var req validateRequest
	if !s.readJSON(c, &req) {
		return
	}
	if req.AccessToken == nil {
		errNullAccessToken.abort(c)
		return
	}

	var clientTokenID *uuid.UUID
	if req.ClientToken != nil {
		id, err := uuid.Parse(*req.ClientToken)
		if err != nil {
			errInvalidToken.abort(c)
			return
		}
		clientTokenID = &id
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	if err := s.auth.Validate(ctx, *req.AccessToken, clientTokenID); err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) {
			s.log.Error("validate_failed", "error", err)
		}
		errInvalidToken.abort(c)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) invalidate(c *gin.Context) {
	var req validateRequest
	if !s.readJSON(c, &req) {
		return
	}
	// Whatever the bearer resolves to, the caller learns nothing.
	if req.AccessToken != nil {
		var clientTokenID *uuid.UUID
		if req.ClientToken != nil {
			if id, err := uuid.Parse(*req.ClientToken); err == nil {
				clientTokenID = &id
			} else {
				c.Status(http.StatusNoContent)
				return
			}
		}
		ctx, cancel := s.ctx(c)
		defer cancel()
		s.auth.Invalidate(ctx, *req.AccessToken, clientTokenID)
	}
	c.Status(http.StatusNoContent)
}

type signoutRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

func (s *Server) signout(c *gin.Context) {
	var req signoutRequest
	if !s.readJSON(c, &req) {
		return
	}
	if req.Username == nil || req.Password == nil {
		errCredentialsRateLimit.abort(c)
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	ip := c.ClientIP()
	if s.failures.Blocked(ctx, *req.Username, ip) {
		errCredentialsRateLimit.abort(c)
		return
	}

	if err := s.auth.Signout(ctx, *req.Username, *req.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.failures.RecordFailure(ctx, *req.Username, ip)
		} else {
			s.log.Error("signout_failed", "error", err)
		}
		errInvalidCredentials.abort(c)
		return
	}
	s.failures.Clear(ctx, *req.Username, ip)
	c.Status(http.StatusNoContent)
}
