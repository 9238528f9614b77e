package handler

import (
	connectiondomain "steptrack-go/internal/domain/connection"
	stepsdomain "steptrack-go/internal/domain/steps"
	stepsyncdomain "steptrack-go/internal/domain/stepsync"
	"steptrack-go/pkg/logger"
)

type Handlers struct {
	Steps      *stepsdomain.Service
	Connection *connectiondomain.Service
	Sync       *stepsyncdomain.Service
	log        logger.Logger
}

func New(steps *stepsdomain.Service, conn *connectiondomain.Service, sync *stepsyncdomain.Service, log logger.Logger) *Handlers {
	return &Handlers{
		Steps:      steps,
		Connection: conn,
		Sync:       sync,
		log:        log,
	}
}
