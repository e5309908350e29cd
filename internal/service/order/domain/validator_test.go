package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validRecipient() Address {
	return Address{Name: "Grandma Rose", Street: "9 Elm St", City: "Albany", State: "NY", Zip: "12207"}
}

func TestValidateAddressAcceptsValid(t *testing.T) {
	require.NoError(t, ValidateAddress(validRecipient(), RoleRecipient))
	require.NoError(t, ValidateAddress(Address{Street: "1 Main St", City: "Nashville", State: "tn", Zip: " 37201 "}, RoleSender))
}

func TestValidateAddressZipStateMismatch(t *testing.T) {
	addr := validRecipient()
	addr.Zip = "10001"
	addr.State = "TN"

	err := ValidateAddress(addr, RoleRecipient)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "recipient.zip", verr.Field)
	require.Equal(t, "NY", verr.Expected)
	require.Contains(t, verr.Error(), "expected NY")
}

func TestValidateAddressFieldErrors(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Address)
		role  AddressRole
		field string
	}{
		{"recipient name required", func(a *Address) { a.Name = " " }, RoleRecipient, "recipient.name"},
		{"street required", func(a *Address) { a.Street = "" }, RoleSender, "sender.street"},
		{"city required", func(a *Address) { a.City = "" }, RoleRecipient, "recipient.city"},
		{"short zip", func(a *Address) { a.Zip = "1220" }, RoleRecipient, "recipient.zip"},
		{"letters in zip", func(a *Address) { a.Zip = "12a07" }, RoleSender, "sender.zip"},
		{"long state", func(a *Address) { a.State = "NYC" }, RoleRecipient, "recipient.state"},
		{"unassigned prefix", func(a *Address) { a.Zip = "00001" }, RoleRecipient, "recipient.zip"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			addr := validRecipient()
			tc.edit(&addr)
			err := ValidateAddress(addr, tc.role)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestValidateAddressSenderNameOptional(t *testing.T) {
	addr := validRecipient()
	addr.Name = ""
	require.NoError(t, ValidateAddress(addr, RoleSender))
}

func TestAddressBlock(t *testing.T) {
	require.Equal(t, "Grandma Rose\n9 Elm St\nAlbany, NY 12207", validRecipient().Block())
	require.Equal(t, "9 Elm St\nAlbany, NY 12207", Address{Street: "9 Elm St", City: "Albany", State: "NY", Zip: "12207"}.Block())
}
