package model

import "time"

// Account 用户账号，首次认证时创建，PartnerUID 为对称配对关系
type Account struct {
	UID         string    `gorm:"primaryKey;type:varchar(128)" json:"uid"`
	DisplayName string    `gorm:"type:varchar(255);not null;default:'Anonymous'" json:"displayName"`
	Email       string    `gorm:"type:varchar(255);not null;default:'No Email'" json:"email"`
	PartnerCode string    `gorm:"type:varchar(16);uniqueIndex:ux_users_partner_code;not null" json:"partnerCode"`
	PartnerUID  *string   `gorm:"type:varchar(128);index:idx_users_partner" json:"partnerUid"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"-"`
}

func (Account) TableName() string { return "users" }

// Paired 是否已有配对对象
func (a *Account) Paired() bool { return a.PartnerUID != nil && *a.PartnerUID != "" }

// PartnerCodeIndex 配对码唯一索引（以 code 为主键），与 Account 同事务写入
type PartnerCodeIndex struct {
	Code      string `gorm:"primaryKey;type:varchar(16)"`
	UID       string `gorm:"type:varchar(128);index;not null"`
	CreatedAt time.Time
}

func (PartnerCodeIndex) TableName() string { return "partner_codes" }
