package models

import (
	"time"

	"github.com/seren-social/seren/internal/crypto"
	"github.com/seren-social/seren/internal/snowflake"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// An Account holds the local-only secrets for a local Actor: the
// password hash used for authentication and the private key used to
// sign outbound requests. Remote actors have no Account.
type Account struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	ActorID   snowflake.ID `gorm:"not null;uniqueIndex"`
	Actor     *Actor       `gorm:"constraint:OnDelete:CASCADE;<-:create;"`
	Email     string       `gorm:"size:64;not null"`
	// EncryptedPassword is the bcrypt hash of the account password.
	EncryptedPassword []byte `gorm:"size:60;not null"`
	// PrivateKey is the PEM encoded RSA key matching Actor.PublicKey.
	PrivateKey []byte     `gorm:"not null"`
	MutedWords []MutedWord `gorm:"constraint:OnDelete:CASCADE;"`
}

// A MutedWord suppresses timeline entries whose content contains Word.
type MutedWord struct {
	ID        uint32 `gorm:"primarykey"`
	CreatedAt time.Time
	AccountID snowflake.ID `gorm:"not null;index"`
	Word      string       `gorm:"size:64;not null"`
}

type Accounts struct {
	db *gorm.DB
}

func NewAccounts(db *gorm.DB) *Accounts {
	return &Accounts{db: db}
}

// AccountForActor returns the account backing the given local actor.
func (a *Accounts) AccountForActor(actor *Actor) (*Account, error) {
	var account Account
	if err := a.db.Joins("Actor").Preload("MutedWords").First(&account, "actor_id = ?", actor.ID).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// Create provisions a local actor together with its account: a fresh
// RSA keypair and a bcrypt password hash.
func (a *Accounts) Create(domain, name, email, password string) (*Account, error) {
	var account Account
	err := a.db.Transaction(func(tx *gorm.DB) error {
		keypair, err := crypto.GenerateRSAKeypair()
		if err != nil {
			return err
		}
		passwd, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}

		asID := "https://" + domain + "/users/" + name
		actor := &Actor{
			ID:             snowflake.Now(),
			UpdatedAt:      time.Now(),
			Type:           "Person",
			ASID:           asID,
			Name:           name,
			Domain:         domain,
			DisplayName:    name,
			InboxURL:       asID + "/inbox",
			OutboxURL:      asID + "/outbox",
			FollowersURL:   asID + "/followers",
			FollowingURL:   asID + "/following",
			SharedInboxURL: "https://" + domain + "/inbox",
			PublicKey:      keypair.PublicKey,
			Local:          true,
		}
		if err := tx.Create(actor).Error; err != nil {
			return err
		}

		account = Account{
			ID:                snowflake.Now(),
			ActorID:           actor.ID,
			Actor:             actor,
			Email:             email,
			EncryptedPassword: passwd,
			PrivateKey:        keypair.PrivateKey,
		}
		return tx.Create(&account).Error
	})
	return &account, err
}

// MutedWords returns the account's muted terms.
func (a *Accounts) MutedWords(account *Account) ([]string, error) {
	var words []MutedWord
	if err := a.db.Where("account_id = ?", account.ID).Find(&words).Error; err != nil {
		return nil, err
	}
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, w.Word)
	}
	return out, nil
}
