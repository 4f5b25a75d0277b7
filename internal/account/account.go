// Package account defines the canonical federated identity key. Every
// successful upstream callback produces an Account; its string encoding is the
// storage key for tokens and the subject of locally issued JWTs.
package account

import (
	"fmt"
	"strings"
)

// Separator joins the three identity fields in the encoded form. Upstream
// subjects containing it cannot be encoded.
const Separator = "|"

// UserType distinguishes the two federated populations.
type UserType string

const (
	TypeJeune      UserType = "JEUNE"
	TypeConseiller UserType = "CONSEILLER"
)

// UserStructure identifies the organisation an account belongs to. Several
// legacy names route to the same upstream provider; the idp package owns that
// alias table.
type UserStructure string

const (
	StructureMilo                     UserStructure = "MILO"
	StructurePoleEmploi               UserStructure = "POLE_EMPLOI"
	StructurePoleEmploiBRSA           UserStructure = "POLE_EMPLOI_BRSA"
	StructurePoleEmploiAIJ            UserStructure = "POLE_EMPLOI_AIJ"
	StructureConseilDept              UserStructure = "CONSEIL_DEPT"
	StructureAvenirPro                UserStructure = "AVENIR_PRO"
	StructureFTAccompagnementIntensif UserStructure = "FT_ACCOMPAGNEMENT_INTENSIF"
	StructureFTAccompagnementGlobal   UserStructure = "FT_ACCOMPAGNEMENT_GLOBAL"
	StructureFTEquipEmploiRecrut      UserStructure = "FT_EQUIP_EMPLOI_RECRUT"
)

// Account is the canonical identity tuple. It is created on every successful
// upstream callback and never mutated.
type Account struct {
	Type      UserType
	Structure UserStructure
	Sub       string
}

// ID is the positional string encoding "type|structure|sub".
type ID string

func (id ID) String() string { return string(id) }

// Encode builds the account identifier. Field order is fixed; Decode performs
// the inverse positional split. The caller guarantees Sub does not contain the
// separator (see Validate).
func Encode(a Account) ID {
	return ID(string(a.Type) + Separator + string(a.Structure) + Separator + a.Sub)
}

// Validate reports whether the account can round-trip through Encode/Decode.
func Validate(a Account) error {
	if a.Type == "" || a.Structure == "" || a.Sub == "" {
		return fmt.Errorf("account: type, structure and sub are required")
	}
	if strings.Contains(a.Sub, Separator) {
		return fmt.Errorf("account: sub %q contains the separator %q", a.Sub, Separator)
	}
	return nil
}

// Decode splits an account identifier back into its three fields. The sub may
// itself be any separator-free string, so exactly three fields are expected.
func Decode(id ID) (Account, error) {
	parts := strings.SplitN(string(id), Separator, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Account{}, fmt.Errorf("account: malformed identifier %q", id)
	}
	if strings.Contains(parts[2], Separator) {
		return Account{}, fmt.Errorf("account: malformed identifier %q", id)
	}
	return Account{
		Type:      UserType(parts[0]),
		Structure: UserStructure(parts[1]),
		Sub:       parts[2],
	}, nil
}
