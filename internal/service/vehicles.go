package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/api/vendor"
	"github.com/langchou/fleetgazer/internal/models"
)

// RunVehicleSync 同步供应商车辆列表：按 (凭据, 序列号) 新建或覆盖，从不删除
// 供应商列表中消失的设备保留原样，避免误删仍与车辆档案关联的记录
func (e *Engine) RunVehicleSync(ctx context.Context, fleetID int64) (models.SyncCounts, error) {
	return e.runCycle(ctx, fleetID, models.SyncTypeVehicles, func(ctx context.Context) (models.SyncCounts, error) {
		return e.vehicleSync(ctx, fleetID)
	})
}

func (e *Engine) vehicleSync(ctx context.Context, fleetID int64) (models.SyncCounts, error) {
	var counts models.SyncCounts

	fc, err := e.resolve(ctx, fleetID)
	if err != nil {
		return counts, err
	}

	vehicles, err := fc.client.FetchVehicles(ctx, fc.cred)
	if err != nil {
		return counts, e.vendorFailed(ctx, fleetID, err)
	}
	counts.Fetched = len(vehicles)

	var failures []error
	for _, v := range vehicles {
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		created, err := e.syncVehicle(ctx, fc, v)
		if err != nil {
			e.logger.Error("Failed to sync vehicle",
				zap.Int64("fleet_id", fleetID),
				zap.String("serial", v.Serial),
				zap.Error(err))
			failures = append(failures, err)
			continue
		}
		if created {
			counts.Inserted++
		} else {
			counts.Updated++
		}
	}

	if len(failures) > 0 {
		return counts, persistErr("sync vehicles",
			fmt.Errorf("%d of %d vehicles failed: %w", len(failures), len(vehicles), errors.Join(failures...)))
	}
	return counts, nil
}

func (e *Engine) syncVehicle(ctx context.Context, fc *fleetContext, v vendor.Vehicle) (bool, error) {
	device := &models.Device{
		CredentialID: fc.cred.ID,
		VendorSerial: v.Serial,
		Name:         v.Name,
		VIN:          v.VIN,
		Plate:        v.Plate,
		Make:         v.Make,
		Model:        v.Model,
		Year:         v.Year,
		ColorCode:    v.ColorCode,
		Notes:        v.Notes,
	}

	created, err := e.repo.UpsertDevice(ctx, device)
	if err != nil {
		return false, err
	}
	if created {
		e.logger.Info("Discovered vendor device",
			zap.Int64("fleet_id", fc.fleet.ID),
			zap.String("serial", v.Serial),
			zap.String("name", v.Name))
	}

	if e.opts.AutoLinkDevices && device.VehicleID == nil {
		if err := e.autoLink(ctx, fc.fleet.ID, device); err != nil {
			return created, fmt.Errorf("auto link device: %w", err)
		}
	}
	return created, nil
}

// autoLink 为未关联的设备创建车辆档案
func (e *Engine) autoLink(ctx context.Context, fleetID int64, device *models.Device) error {
	name := device.Name
	if name == "" {
		name = device.VendorSerial
	}

	vehicle := &models.Vehicle{
		FleetID: fleetID,
		Name:    name,
		Plate:   device.Plate,
		VIN:     device.VIN,
		Make:    device.Make,
		Model:   device.Model,
		Year:    device.Year,
		Color:   device.Color(),
		Notes:   device.Notes,
	}
	if err := e.repo.CreateVehicle(ctx, vehicle); err != nil {
		return err
	}
	if err := e.repo.LinkDevice(ctx, device.ID, &vehicle.ID); err != nil {
		return err
	}
	device.VehicleID = &vehicle.ID

	e.logger.Info("Linked device to new vehicle",
		zap.Int64("device_id", device.ID),
		zap.Int64("vehicle_id", vehicle.ID))
	return nil
}
