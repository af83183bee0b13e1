package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/blendsoftware/pos_backend/config"
	"bitbucket.org/blendsoftware/pos_backend/models"
	"bitbucket.org/blendsoftware/pos_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func TestShipmentLifecycleMovesStockBetweenBranches(t *testing.T) {
	ctx, db := connectTestStack(t)

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:  "Test Retail",
		Email: "owner@test.local",
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	ctx = utils.SetBusinessIdInContext(ctx, biz.ID.String())

	main, err := models.CreateBranch(ctx, &models.NewBranch{Name: "Main", Phone: "0911111111"})
	if err != nil {
		t.Fatalf("CreateBranch(main): %v", err)
	}
	mall, err := models.CreateBranch(ctx, &models.NewBranch{Name: "Mall", Phone: "0922222222"})
	if err != nil {
		t.Fatalf("CreateBranch(mall): %v", err)
	}

	size, err := models.CreateProductSize(ctx, "M")
	if err != nil {
		t.Fatalf("CreateProductSize: %v", err)
	}
	color, err := models.CreateProductColor(ctx, "Blue")
	if err != nil {
		t.Fatalf("CreateProductColor: %v", err)
	}
	shirt, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:       "Linen Shirt",
		Sku:        "SHIRT-001",
		SalesPrice: decimal.NewFromInt(12000),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	// Seed 25 units of the variant at Main.
	tx := db.Begin()
	seeded, err := models.AdjustVariantStock(tx.WithContext(ctx), biz.ID.String(),
		shirt.ID, size.ID, color.ID, main.ID, decimal.NewFromInt(25), "")
	if err != nil {
		tx.Rollback()
		t.Fatalf("seed stock: %v", err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit seed: %v", err)
	}

	// 1) Create shipment of 10: origin debited immediately, status Packed.
	shipment, err := models.CreateShipment(ctx, &models.NewShipment{
		ShipmentNumber:      "SH-0001",
		OriginBranchId:      main.ID,
		DestinationBranchId: mall.ID,
		Details: []models.NewShipmentDetail{
			{ProductId: shirt.ID, SizeId: size.ID, ColorId: color.ID, Qty: decimal.NewFromInt(10)},
		},
	})
	if err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}
	if shipment.CurrentStatus != models.ShipmentStatusPacked {
		t.Fatalf("expected status Packed; got %s", shipment.CurrentStatus)
	}
	if shipment.TotalQty.Cmp(decimal.NewFromInt(10)) != 0 {
		t.Fatalf("expected total qty 10; got %s", shipment.TotalQty.String())
	}
	if shipment.TotalValue.Cmp(decimal.NewFromInt(120000)) != 0 {
		t.Fatalf("expected total value 120000; got %s", shipment.TotalValue.String())
	}
	if len(shipment.Details) != 1 || shipment.Details[0].Barcode != seeded.Barcode {
		t.Fatalf("expected detail to snapshot origin barcode %q; got %+v", seeded.Barcode, shipment.Details)
	}
	if shipment.Details[0].UnitPrice.Cmp(decimal.NewFromInt(12000)) != 0 {
		t.Fatalf("expected unit price snapshot 12000; got %s", shipment.Details[0].UnitPrice.String())
	}

	originQty, err := models.GetVariantStock(ctx, shirt.ID, size.ID, color.ID, main.ID)
	if err != nil {
		t.Fatalf("GetVariantStock(origin): %v", err)
	}
	if originQty.Cmp(decimal.NewFromInt(15)) != 0 {
		t.Fatalf("expected origin qty 15 after packing; got %s", originQty.String())
	}

	// 2) Walk the happy path. No stock moves until Received.
	shipment, err = models.TransitionShipment(ctx, shipment.ID, models.ShipmentStatusInTransit)
	if err != nil {
		t.Fatalf("transition to InTransit: %v", err)
	}
	if shipment.ShippedAt == nil {
		t.Fatalf("expected shipped_at to be stamped")
	}
	shipment, err = models.TransitionShipment(ctx, shipment.ID, models.ShipmentStatusDelivered)
	if err != nil {
		t.Fatalf("transition to Delivered: %v", err)
	}
	if shipment.DeliveredAt == nil {
		t.Fatalf("expected delivered_at to be stamped")
	}

	destQty, err := models.GetVariantStock(ctx, shirt.ID, size.ID, color.ID, mall.ID)
	if err != nil {
		t.Fatalf("GetVariantStock(destination, pre-receive): %v", err)
	}
	if !destQty.IsZero() {
		t.Fatalf("expected destination qty 0 before receive; got %s", destQty.String())
	}

	// Pending lists see it from both ends while in flight.
	incoming, err := models.ListPendingShipments(ctx, mall.ID, models.ShipmentDirectionIncoming)
	if err != nil {
		t.Fatalf("ListPendingShipments(incoming): %v", err)
	}
	if len(incoming) != 1 || incoming[0].ID != shipment.ID {
		t.Fatalf("expected shipment pending incoming at mall; got %+v", incoming)
	}
	outgoing, err := models.ListPendingShipments(ctx, main.ID, models.ShipmentDirectionOutgoing)
	if err != nil {
		t.Fatalf("ListPendingShipments(outgoing): %v", err)
	}
	if len(outgoing) != 1 {
		t.Fatalf("expected shipment pending outgoing at main; got %+v", outgoing)
	}

	// 3) Receive: destination credited, shipment terminal.
	shipment, err = models.TransitionShipment(ctx, shipment.ID, models.ShipmentStatusReceived)
	if err != nil {
		t.Fatalf("transition to Received: %v", err)
	}
	if shipment.ReceivedAt == nil {
		t.Fatalf("expected received_at to be stamped")
	}

	destQty, err = models.GetVariantStock(ctx, shirt.ID, size.ID, color.ID, mall.ID)
	if err != nil {
		t.Fatalf("GetVariantStock(destination): %v", err)
	}
	if destQty.Cmp(decimal.NewFromInt(10)) != 0 {
		t.Fatalf("expected destination qty 10 after receive; got %s", destQty.String())
	}

	// Conservation: total units across branches unchanged.
	originQty, _ = models.GetVariantStock(ctx, shirt.ID, size.ID, color.ID, main.ID)
	if originQty.Add(destQty).Cmp(decimal.NewFromInt(25)) != 0 {
		t.Fatalf("units not conserved: origin=%s destination=%s", originQty.String(), destQty.String())
	}

	// Aggregates agree with variant rows on both branches.
	aggMain, err := models.GetAggregateStock(ctx, shirt.ID, main.ID)
	if err != nil {
		t.Fatalf("GetAggregateStock(main): %v", err)
	}
	if aggMain.Cmp(decimal.NewFromInt(15)) != 0 {
		t.Fatalf("expected main aggregate 15; got %s", aggMain.String())
	}
	aggMall, err := models.GetAggregateStock(ctx, shirt.ID, mall.ID)
	if err != nil {
		t.Fatalf("GetAggregateStock(mall): %v", err)
	}
	if aggMall.Cmp(decimal.NewFromInt(10)) != 0 {
		t.Fatalf("expected mall aggregate 10; got %s", aggMall.String())
	}

	// 4) Received is final: further transitions fail without moving stock.
	if _, err := models.TransitionShipment(ctx, shipment.ID, models.ShipmentStatusCancelled); !utils.IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition cancelling a received shipment; got %v", err)
	}
	destQty, _ = models.GetVariantStock(ctx, shirt.ID, size.ID, color.ID, mall.ID)
	if destQty.Cmp(decimal.NewFromInt(10)) != 0 {
		t.Fatalf("stock moved on rejected transition: %s", destQty.String())
	}
	pending, err := models.ListPendingShipments(ctx, mall.ID, models.ShipmentDirectionIncoming)
	if err != nil {
		t.Fatalf("ListPendingShipments(after receive): %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("received shipment must leave pending lists; got %+v", pending)
	}
}

func TestShipmentCancelAndReopenRestoreOriginStock(t *testing.T) {
	ctx, db := connectTestStack(t)

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:  "Test Retail",
		Email: "owner@test.local",
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	ctx = utils.SetBusinessIdInContext(ctx, biz.ID.String())

	main, err := models.CreateBranch(ctx, &models.NewBranch{Name: "Main", Phone: "0911111111"})
	if err != nil {
		t.Fatalf("CreateBranch(main): %v", err)
	}
	mall, err := models.CreateBranch(ctx, &models.NewBranch{Name: "Mall", Phone: "0922222222"})
	if err != nil {
		t.Fatalf("CreateBranch(mall): %v", err)
	}
	bag, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:       "Tote Bag",
		Sku:        "BAG-001",
		SalesPrice: decimal.NewFromInt(8000),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	tx := db.Begin()
	if _, err := models.AdjustVariantStock(tx.WithContext(ctx), biz.ID.String(),
		bag.ID, 0, 0, main.ID, decimal.NewFromInt(8), ""); err != nil {
		tx.Rollback()
		t.Fatalf("seed stock: %v", err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit seed: %v", err)
	}

	shipment, err := models.CreateShipment(ctx, &models.NewShipment{
		ShipmentNumber:      "SH-0002",
		OriginBranchId:      main.ID,
		DestinationBranchId: mall.ID,
		Details: []models.NewShipmentDetail{
			{ProductId: bag.ID, Qty: decimal.NewFromInt(8)},
		},
	})
	if err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}

	mustQty := func(branchId int, want int64, stage string) {
		t.Helper()
		qty, err := models.GetVariantStock(ctx, bag.ID, 0, 0, branchId)
		if err != nil {
			t.Fatalf("GetVariantStock(%s): %v", stage, err)
		}
		if qty.Cmp(decimal.NewFromInt(want)) != 0 {
			t.Fatalf("%s: expected qty %d; got %s", stage, want, qty.String())
		}
	}
	mustQty(main.ID, 0, "after packing")

	// Cancel from Packed gives everything back.
	shipment, err = models.TransitionShipment(ctx, shipment.ID, models.ShipmentStatusCancelled)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	mustQty(main.ID, 8, "after cancel")
	mustQty(mall.ID, 0, "after cancel")

	// Double cancel is rejected without side effects.
	if _, err := models.TransitionShipment(ctx, shipment.ID, models.ShipmentStatusCancelled); !utils.IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition on double cancel; got %v", err)
	}
	mustQty(main.ID, 8, "after double cancel")

	// Reopen re-deducts origin and clears the journey timestamps.
	shipment, err = models.TransitionShipment(ctx, shipment.ID, models.ShipmentStatusPacked)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if shipment.CurrentStatus != models.ShipmentStatusPacked {
		t.Fatalf("expected Packed after reopen; got %s", shipment.CurrentStatus)
	}
	if shipment.ShippedAt != nil || shipment.DeliveredAt != nil || shipment.ReceivedAt != nil {
		t.Fatalf("expected reopen to clear timestamps; got %+v", shipment)
	}
	mustQty(main.ID, 0, "after reopen")

	// Cancel again, drain origin below the shipment qty, then try to
	// reopen: the transition must fail atomically and stay Cancelled.
	if _, err := models.TransitionShipment(ctx, shipment.ID, models.ShipmentStatusCancelled); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	mustQty(main.ID, 8, "after second cancel")

	tx = db.Begin()
	if _, err := models.AdjustVariantStock(tx.WithContext(ctx), biz.ID.String(),
		bag.ID, 0, 0, main.ID, decimal.NewFromInt(-5), ""); err != nil {
		tx.Rollback()
		t.Fatalf("drain origin: %v", err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit drain: %v", err)
	}

	if _, err := models.TransitionShipment(ctx, shipment.ID, models.ShipmentStatusPacked); !errors.Is(err, utils.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock on reopen; got %v", err)
	}
	reloaded, err := models.GetShipment(ctx, shipment.ID)
	if err != nil {
		t.Fatalf("GetShipment: %v", err)
	}
	if reloaded.CurrentStatus != models.ShipmentStatusCancelled {
		t.Fatalf("failed reopen must leave shipment Cancelled; got %s", reloaded.CurrentStatus)
	}
	mustQty(main.ID, 3, "after failed reopen")
}

func TestCreateShipmentInsufficientStockRollsBack(t *testing.T) {
	ctx, db := connectTestStack(t)

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:  "Test Retail",
		Email: "owner@test.local",
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	ctx = utils.SetBusinessIdInContext(ctx, biz.ID.String())

	main, err := models.CreateBranch(ctx, &models.NewBranch{Name: "Main", Phone: "0911111111"})
	if err != nil {
		t.Fatalf("CreateBranch(main): %v", err)
	}
	mall, err := models.CreateBranch(ctx, &models.NewBranch{Name: "Mall", Phone: "0922222222"})
	if err != nil {
		t.Fatalf("CreateBranch(mall): %v", err)
	}
	cap1, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:       "Cap",
		Sku:        "CAP-001",
		SalesPrice: decimal.NewFromInt(5000),
	})
	if err != nil {
		t.Fatalf("CreateProduct(cap): %v", err)
	}
	belt, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:       "Belt",
		Sku:        "BELT-001",
		SalesPrice: decimal.NewFromInt(9000),
	})
	if err != nil {
		t.Fatalf("CreateProduct(belt): %v", err)
	}

	tx := db.Begin()
	if _, err := models.AdjustVariantStock(tx.WithContext(ctx), biz.ID.String(),
		cap1.ID, 0, 0, main.ID, decimal.NewFromInt(20), ""); err != nil {
		tx.Rollback()
		t.Fatalf("seed cap stock: %v", err)
	}
	if _, err := models.AdjustVariantStock(tx.WithContext(ctx), biz.ID.String(),
		belt.ID, 0, 0, main.ID, decimal.NewFromInt(5), ""); err != nil {
		tx.Rollback()
		t.Fatalf("seed belt stock: %v", err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit seed: %v", err)
	}

	// The second line overdraws, so the whole shipment must roll back,
	// including the first line's deduction.
	_, err = models.CreateShipment(ctx, &models.NewShipment{
		ShipmentNumber:      "SH-0003",
		OriginBranchId:      main.ID,
		DestinationBranchId: mall.ID,
		Details: []models.NewShipmentDetail{
			{ProductId: cap1.ID, Qty: decimal.NewFromInt(10)},
			{ProductId: belt.ID, Qty: decimal.NewFromInt(6)},
		},
	})
	if !errors.Is(err, utils.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock; got %v", err)
	}

	capQty, err := models.GetVariantStock(ctx, cap1.ID, 0, 0, main.ID)
	if err != nil {
		t.Fatalf("GetVariantStock(cap): %v", err)
	}
	if capQty.Cmp(decimal.NewFromInt(20)) != 0 {
		t.Fatalf("expected cap stock untouched at 20; got %s", capQty.String())
	}
	beltQty, err := models.GetVariantStock(ctx, belt.ID, 0, 0, main.ID)
	if err != nil {
		t.Fatalf("GetVariantStock(belt): %v", err)
	}
	if beltQty.Cmp(decimal.NewFromInt(5)) != 0 {
		t.Fatalf("expected belt stock untouched at 5; got %s", beltQty.String())
	}

	var count int64
	if err := db.WithContext(ctx).Model(&models.Shipment{}).
		Where("business_id = ?", biz.ID.String()).Count(&count).Error; err != nil {
		t.Fatalf("count shipments: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no shipment row after rollback; got %d", count)
	}

	// Same-branch shipments are rejected up front.
	_, err = models.CreateShipment(ctx, &models.NewShipment{
		ShipmentNumber:      "SH-0004",
		OriginBranchId:      main.ID,
		DestinationBranchId: main.ID,
		Details: []models.NewShipmentDetail{
			{ProductId: cap1.ID, Qty: decimal.NewFromInt(1)},
		},
	})
	if !utils.IsValidationError(err) {
		t.Fatalf("expected validation error for same-branch shipment; got %v", err)
	}
}

// connectTestStack boots throwaway MySQL and Redis containers, points
// the config globals at them and migrates the schema. Each test gets a
// fresh stack.
func connectTestStack(t *testing.T) (context.Context, *gorm.DB) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "pos_test")
	t.Setenv("DEBUG_SHIPMENT", "true")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")

	return ctx, db
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("pos-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("pos-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=pos_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
