package api

import "time"

type deploymentModel struct {
	ID                   string     `gorm:"type:text;primaryKey"`
	OwnerID              string     `gorm:"type:text;not null;index"`
	DeploymentAuth       string     `gorm:"type:text;not null;index"`
	AccessToken          string     `gorm:"type:text;not null"`
	IsUnit               bool       `gorm:"type:boolean;not null;default:false"`
	Name                 string     `gorm:"type:text"`
	Description          string     `gorm:"type:text"`
	Services             string     `gorm:"type:text"`
	HeartbeatData        string     `gorm:"type:text"`
	Status               string     `gorm:"type:text;not null"`
	IPAddress            string     `gorm:"type:text"`
	ConfigGenerationWant int64      `gorm:"type:bigint;not null;default:0"`
	ConfigGenerationHave int64      `gorm:"type:bigint;not null;default:0"`
	UpdateGenerationWant int64      `gorm:"type:bigint;not null;default:0"`
	UpdateGenerationHave int64      `gorm:"type:bigint;not null;default:0"`
	UnitClaimTime        *time.Time `gorm:"type:timestamptz"`
	CreatedAt            time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt            time.Time  `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (deploymentModel) TableName() string { return "deployments" }

func (m deploymentModel) toAPI() Deployment {
	return Deployment{
		ID:                   m.ID,
		OwnerID:              m.OwnerID,
		DeploymentAuth:       m.DeploymentAuth,
		AccessToken:          m.AccessToken,
		IsUnit:               m.IsUnit,
		Name:                 m.Name,
		Description:          m.Description,
		Services:             m.Services,
		Status:               m.Status,
		HeartbeatData:        m.HeartbeatData,
		IPAddress:            m.IPAddress,
		ConfigGenerationWant: m.ConfigGenerationWant,
		ConfigGenerationHave: m.ConfigGenerationHave,
		UpdateGenerationWant: m.UpdateGenerationWant,
		UpdateGenerationHave: m.UpdateGenerationHave,
		UnitClaimTime:        m.UnitClaimTime,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func fromAPI(d Deployment) deploymentModel {
	return deploymentModel{
		ID:                   d.ID,
		OwnerID:              d.OwnerID,
		DeploymentAuth:       d.DeploymentAuth,
		AccessToken:          d.AccessToken,
		IsUnit:               d.IsUnit,
		Name:                 d.Name,
		Description:          d.Description,
		Services:             d.Services,
		Status:               d.Status,
		HeartbeatData:        d.HeartbeatData,
		IPAddress:            d.IPAddress,
		ConfigGenerationWant: d.ConfigGenerationWant,
		ConfigGenerationHave: d.ConfigGenerationHave,
		UpdateGenerationWant: d.UpdateGenerationWant,
		UpdateGenerationHave: d.UpdateGenerationHave,
		UnitClaimTime:        d.UnitClaimTime,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
}
