package commands

import "github.com/Tanmayop9/discord-antinuke/internal/config"

type access uint8

const (
	// accessAdmin admits administrators as well as trusted users.
	accessAdmin access = iota
	// accessTrusted admits only the owner and whitelisted users.
	accessTrusted
	accessOwner
)

func requiredAccess(path []string) access {
	switch path[0] {
	case "status", "snapshot", "logs":
		return accessAdmin
	case "whitelist":
		if len(path) > 1 && path[1] == "view" {
			return accessAdmin
		}
		return accessOwner
	}
	return accessTrusted
}

func allowed(cfg *config.TenantConfig, inv Invocation, need access) bool {
	if inv.UserID == "" {
		return false
	}
	isOwner := cfg.OwnerID != "" && inv.UserID == cfg.OwnerID
	switch need {
	case accessOwner:
		return isOwner
	case accessTrusted:
		return cfg.IsTrustedUser(inv.UserID)
	default:
		return inv.IsAdmin || cfg.IsTrustedUser(inv.UserID)
	}
}
