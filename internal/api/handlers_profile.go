package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"nepojang/internal/auth"
	"nepojang/internal/models"
	"nepojang/internal/store"
	"nepojang/internal/textures"
)

// Current-holder responses are cached briefly; a rename becomes visible
// after at most this long.
const profileCacheTTL = 30 * time.Second

// currentProfileStub resolves the current holder of name through the
// response cache. Only positive results are cached.
func (s *Server) currentProfileStub(ctx context.Context, name string) (gin.H, error) {
	key := "profile:name:" + strings.ToLower(name)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var stub gin.H
			if json.Unmarshal([]byte(raw), &stub) == nil {
				return stub, nil
			}
		}
	}

	profile, err := s.store.ProfileByName(ctx, name)
	if err != nil {
		return nil, err
	}
	stub := profileStub(profile.UUID, profile.Name)

	if s.cache != nil {
		if raw, err := json.Marshal(stub); err == nil {
			if err := s.cache.Set(ctx, key, string(raw), profileCacheTTL); err != nil {
				s.log.Warn("profile_cache_set_failed", "error", err)
			}
		}
	}
	return stub, nil
}

// ownerAtTime resolves which profile held a name at a point in time. With no
// "at" parameter the lookup is against now, which answers "who owns this name
// today" and is served through the response cache.
func (s *Server) ownerAtTime(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	raw, hasAt := c.GetQuery("at")
	if !hasAt {
		stub, err := s.currentProfileStub(ctx, c.Param("username"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.Status(http.StatusNoContent)
				return
			}
			s.log.Error("owner_lookup_failed", "error", err)
			errNotFound.abort(c)
			return
		}
		c.JSON(http.StatusOK, stub)
		return
	}

	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		errInvalidTimestamp.abort(c)
		return
	}
	at := time.Unix(sec, 0).UTC()

	profile, err := s.names.OwnerAt(ctx, c.Param("username"), at)
	if err != nil {
		s.log.Error("owner_lookup_failed", "error", err)
		errNotFound.abort(c)
		return
	}
	if profile == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, profileStub(profile.UUID, profile.Name))
}

func (s *Server) nameHistory(c *gin.Context) {
	raw := c.Param("uuid")
	if len(raw) != 32 {
		c.Status(http.StatusNoContent)
		return
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.Status(http.StatusNoContent)
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	profile, err := s.store.ProfileByUUID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.Status(http.StatusNoContent)
			return
		}
		s.log.Error("profile_lookup_failed", "error", err)
		errNotFound.abort(c)
		return
	}

	events, err := s.names.History(ctx, profile.ID)
	if err != nil {
		s.log.Error("history_lookup_failed", "error", err)
		errNotFound.abort(c)
		return
	}

	history := make([]gin.H, 0, len(events))
	for _, ev := range events {
		if ev.IsInitialName {
			history = append(history, gin.H{"name": ev.Name})
		} else {
			history = append(history, gin.H{
				"name":        ev.Name,
				"changedToAt": ev.ActiveFrom.Unix(),
			})
		}
	}
	c.JSON(http.StatusOK, history)
}

func (s *Server) profilesByNames(c *gin.Context) {
	var requested []string
	if !s.readJSON(c, &requested) {
		return
	}
	if len(requested) > 10 {
		errOverProfileLimit.abort(c)
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	found := make([]gin.H, 0, len(requested))
	for _, name := range requested {
		stub, err := s.currentProfileStub(ctx, name)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			s.log.Error("profile_lookup_failed", "error", err)
			errNotFound.abort(c)
			return
		}
		found = append(found, stub)
	}
	c.JSON(http.StatusOK, found)
}

// bearerProfile authenticates the request and checks the addressed profile
// belongs to the token's account. Mismatches answer the same way as unknown
// tokens so callers cannot map profile ownership.
func (s *Server) bearerProfile(c *gin.Context) (*models.Profile, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") || header == "Bearer " {
		errAuthHeaderMissing.abort(c)
		return nil, false
	}
	bearer := strings.TrimPrefix(header, "Bearer ")

	yggt, err := auth.ReadYggt(bearer)
	if err != nil {
		errInvalidToken.abort(c)
		return nil, false
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	token, err := s.store.AccessTokenByUUID(ctx, yggt)
	if err != nil {
		errInvalidToken.abort(c)
		return nil, false
	}

	id, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		errInvalidUUID.abort(c)
		return nil, false
	}

	profile, err := s.store.ProfileByUUID(ctx, id)
	if err != nil || profile.AccountID != token.AccountID {
		errInvalidToken.abort(c)
		return nil, false
	}
	return profile, true
}

func validSkinModel(model string) bool {
	return model == "" || model == "classic" || model == "slim"
}

func (s *Server) changeSkin(c *gin.Context) {
	profile, ok := s.bearerProfile(c)
	if !ok {
		return
	}

	switch c.Request.Method {
	case http.MethodPost:
		model := c.PostForm("model")
		url := c.PostForm("url")
		if url == "" {
			errMissingSkin.abort(c)
			return
		}
		resp, err := s.fetch.Get(url)
		if err != nil {
			errInvalidImage.abort(c)
			return
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
		if err != nil {
			errInvalidImage.abort(c)
			return
		}
		s.setSkin(c, profile, model, data)

	case http.MethodPut:
		file, err := c.FormFile("file")
		if err != nil {
			errNullMessage.abort(c)
			return
		}
		f, err := file.Open()
		if err != nil {
			errInvalidImage.abort(c)
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			errInvalidImage.abort(c)
			return
		}
		s.setSkin(c, profile, c.PostForm("model"), data)

	case http.MethodDelete:
		ctx, cancel := s.ctx(c)
		defer cancel()
		if profile.SkinKey != nil {
			if err := s.textures.Delete(ctx, *profile.SkinKey); err != nil {
				s.log.Error("skin_delete_failed", "error", err)
			}
			profile.SkinKey = nil
			if err := s.store.UpdateProfile(ctx, profile); err != nil {
				s.log.Error("profile_update_failed", "error", err)
			}
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) setSkin(c *gin.Context, profile *models.Profile, model string, data []byte) {
	if !validSkinModel(model) {
		errInvalidSkin.abort(c)
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	key, err := s.textures.Put(ctx, textures.KindSkin, profile.UUID, data)
	if err != nil {
		errInvalidImage.abort(c)
		return
	}

	old := profile.SkinKey
	profile.SkinKey = &key
	if err := s.store.UpdateProfile(ctx, profile); err != nil {
		s.log.Error("profile_update_failed", "error", err)
		errInvalidImage.abort(c)
		return
	}
	if old != nil && *old != key {
		if err := s.textures.Delete(ctx, *old); err != nil {
			s.log.Error("skin_delete_failed", "error", err)
		}
	}
	c.Status(http.StatusNoContent)
}
