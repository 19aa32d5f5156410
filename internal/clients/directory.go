package clients

import (
	"context"
	"fmt"
	"unicode/utf16"

	"github.com/go-ldap/ldap/v3"
)

// DirectoryClient performs Active Directory operations over LDAP. Each
// call opens a fresh bound connection; the directory is not chatty enough
// to warrant pooling.
type DirectoryClient struct {
	server   string
	baseDN   string
	bindUser string
	bindPass string
}

// NewDirectoryClient builds a client for the given LDAP server and base DN.
func NewDirectoryClient(server, baseDN, bindUser, bindPass string) *DirectoryClient {
	return &DirectoryClient{server: server, baseDN: baseDN, bindUser: bindUser, bindPass: bindPass}
}

// DirectoryUser is the subset of account attributes the tools expose.
type DirectoryUser struct {
	DN          string `json:"dn"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Enabled     bool   `json:"enabled"`
	LockedOut   bool   `json:"locked_out"`
}

// userAccountControl flag for a disabled account.
const uacAccountDisable = 0x2

func (c *DirectoryClient) connect() (*ldap.Conn, error) {
	conn, err := ldap.DialURL(c.server)
	if err != nil {
		return nil, fmt.Errorf("ldap dial %s: %w", c.server, err)
	}
	if err := conn.Bind(c.bindUser, c.bindPass); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ldap bind: %w", err)
	}
	return conn, nil
}

func (c *DirectoryClient) findUser(conn *ldap.Conn, username string) (*ldap.Entry, error) {
	req := ldap.NewSearchRequest(
		c.baseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 10, false,
		fmt.Sprintf("(&(objectClass=user)(sAMAccountName=%s))", ldap.EscapeFilter(username)),
		[]string{"distinguishedName", "sAMAccountName", "displayName", "mail", "userAccountControl", "lockoutTime", "memberOf"},
		nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("ldap search %s: %w", username, err)
	}
	if len(res.Entries) == 0 {
		return nil, fmt.Errorf("user not found: %s", username)
	}
	return res.Entries[0], nil
}

func entryToUser(e *ldap.Entry) *DirectoryUser {
	uac := 0
	fmt.Sscanf(e.GetAttributeValue("userAccountControl"), "%d", &uac)
	lockout := e.GetAttributeValue("lockoutTime")
	return &DirectoryUser{
		DN:          e.DN,
		Username:    e.GetAttributeValue("sAMAccountName"),
		DisplayName: e.GetAttributeValue("displayName"),
		Email:       e.GetAttributeValue("mail"),
		Enabled:     uac&uacAccountDisable == 0,
		LockedOut:   lockout != "" && lockout != "0",
	}
}

// CheckUser reports whether the account exists.
func (c *DirectoryClient) CheckUser(ctx context.Context, username string) (bool, error) {
	conn, err := c.connect()
	if err != nil {
		return false, err
	}
	defer conn.Close()
	_, err = c.findUser(conn, username)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// GetUserInfo returns the account's public attributes.
func (c *DirectoryClient) GetUserInfo(ctx context.Context, username string) (*DirectoryUser, error) {
	conn, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	entry, err := c.findUser(conn, username)
	if err != nil {
		return nil, err
	}
	return entryToUser(entry), nil
}

// UnlockAccount clears the lockout timer.
func (c *DirectoryClient) UnlockAccount(ctx context.Context, username string) error {
	return c.modifyUser(username, func(dn string, mod *ldap.ModifyRequest) {
		mod.Replace("lockoutTime", []string{"0"})
	})
}

// ResetPassword sets a new password. AD requires the value as a quoted
// UTF-16LE string in the unicodePwd attribute.
func (c *DirectoryClient) ResetPassword(ctx context.Context, username, newPassword string) error {
	return c.modifyUser(username, func(dn string, mod *ldap.ModifyRequest) {
		mod.Replace("unicodePwd", []string{encodeADPassword(newPassword)})
	})
}

// DisableAccount sets the disable flag on userAccountControl.
func (c *DirectoryClient) DisableAccount(ctx context.Context, username string) error {
	return c.setEnabled(username, false)
}

// EnableAccount clears the disable flag.
func (c *DirectoryClient) EnableAccount(ctx context.Context, username string) error {
	return c.setEnabled(username, true)
}

func (c *DirectoryClient) setEnabled(username string, enabled bool) error {
	conn, err := c.connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	entry, err := c.findUser(conn, username)
	if err != nil {
		return err
	}
	uac := 0
	fmt.Sscanf(entry.GetAttributeValue("userAccountControl"), "%d", &uac)
	if enabled {
		uac &^= uacAccountDisable
	} else {
		uac |= uacAccountDisable
	}

	mod := ldap.NewModifyRequest(entry.DN, nil)
	mod.Replace("userAccountControl", []string{fmt.Sprintf("%d", uac)})
	if err := conn.Modify(mod); err != nil {
		return fmt.Errorf("ldap modify %s: %w", username, err)
	}
	return nil
}

// MoveToOU relocates the account under a new organizational unit.
func (c *DirectoryClient) MoveToOU(ctx context.Context, username, targetOU string) error {
	conn, err := c.connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	entry, err := c.findUser(conn, username)
	if err != nil {
		return err
	}
	rdn := fmt.Sprintf("CN=%s", entry.GetAttributeValue("sAMAccountName"))
	req := ldap.NewModifyDNRequest(entry.DN, rdn, true, targetOU)
	if err := conn.ModifyDN(req); err != nil {
		return fmt.Errorf("ldap move %s to %s: %w", username, targetOU, err)
	}
	return nil
}

// CopyGroupsFrom adds the target user to every group the source user is in.
func (c *DirectoryClient) CopyGroupsFrom(ctx context.Context, sourceUser, targetUser string) ([]string, error) {
	conn, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	source, err := c.findUser(conn, sourceUser)
	if err != nil {
		return nil, err
	}
	target, err := c.findUser(conn, targetUser)
	if err != nil {
		return nil, err
	}

	groups := source.GetAttributeValues("memberOf")
	for _, groupDN := range groups {
		mod := ldap.NewModifyRequest(groupDN, nil)
		mod.Add("member", []string{target.DN})
		if err := conn.Modify(mod); err != nil {
			return nil, fmt.Errorf("add %s to %s: %w", targetUser, groupDN, err)
		}
	}
	return groups, nil
}

func (c *DirectoryClient) modifyUser(username string, apply func(dn string, mod *ldap.ModifyRequest)) error {
	conn, err := c.connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	entry, err := c.findUser(conn, username)
	if err != nil {
		return err
	}
	mod := ldap.NewModifyRequest(entry.DN, nil)
	apply(entry.DN, mod)
	if err := conn.Modify(mod); err != nil {
		return fmt.Errorf("ldap modify %s: %w", username, err)
	}
	return nil
}

// encodeADPassword produces the quoted UTF-16LE form AD expects.
func encodeADPassword(password string) string {
	units := utf16.Encode([]rune(`"` + password + `"`))
	buf := make([]byte, 0, len(units)*2)
	for _, u := range units {
		buf = append(buf, byte(u), byte(u>>8))
	}
	return string(buf)
}
