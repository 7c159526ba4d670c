package billing

import (
	"github.com/complykit/complykit/handler"
	"github.com/complykit/complykit/pkg/cursor"
	billingsvc "github.com/complykit/complykit/svc/billing"
)

func (m *Module) listPackages(ctx handler.Context, req listPackagesRequest) handler.Response {
	q, err := cursor.Parse(req.Cursor, req.Limit, req.Order)
	if err != nil {
		return handler.Error(err)
	}
	page, err := m.svc.Catalog.ListPackages(ctx, caller(ctx), req.IncludeInactive, q)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(page)
}

func (m *Module) createPackage(ctx handler.Context, req billingsvc.PackageInput) handler.Response {
	pkg, err := m.svc.Catalog.CreatePackage(ctx, caller(ctx), req)
	if err != nil {
		return handler.Error(err)
	}
	return handler.Created(pkg)
}

func (m *Module) getPackage(ctx handler.Context, req packageRequest) handler.Response {
	id, err := parseID(req.ID)
	if err != nil {
		return handler.Error(err)
	}
	pkg, err := m.svc.Catalog.GetPackage(ctx, caller(ctx), id)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(pkg)
}

func (m *Module) updatePackage(ctx handler.Context, req updatePackageRequest) handler.Response {
	id, err := parseID(req.ID)
	if err != nil {
		return handler.Error(err)
	}
	pkg, err := m.svc.Catalog.UpdatePackage(ctx, caller(ctx), id, req.PackagePatch)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(pkg)
}

// deletePackage deactivates; subscriptions keep their package.
func (m *Module) deletePackage(ctx handler.Context, req packageRequest) handler.Response {
	id, err := parseID(req.ID)
	if err != nil {
		return handler.Error(err)
	}
	pkg, err := m.svc.Catalog.DeletePackage(ctx, caller(ctx), id)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(pkg)
}

func (m *Module) listPermissions(ctx handler.Context, req listPermissionsRequest) handler.Response {
	q, err := cursor.Parse(req.Cursor, req.Limit, req.Order)
	if err != nil {
		return handler.Error(err)
	}
	page, err := m.svc.Catalog.ListPermissions(ctx, q)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(page)
}

func (m *Module) createPermission(ctx handler.Context, req billingsvc.PermissionInput) handler.Response {
	perm, err := m.svc.Catalog.CreatePermission(ctx, caller(ctx), req)
	if err != nil {
		return handler.Error(err)
	}
	return handler.Created(perm)
}

func (m *Module) getPermission(ctx handler.Context, req permissionRequest) handler.Response {
	id, err := parseID(req.ID)
	if err != nil {
		return handler.Error(err)
	}
	perm, err := m.svc.Catalog.GetPermission(ctx, id)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(perm)
}

func (m *Module) updatePermission(ctx handler.Context, req updatePermissionRequest) handler.Response {
	id, err := parseID(req.ID)
	if err != nil {
		return handler.Error(err)
	}
	perm, err := m.svc.Catalog.UpdatePermission(ctx, caller(ctx), id, req.PermissionPatch)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(perm)
}

func (m *Module) deletePermission(ctx handler.Context, req permissionRequest) handler.Response {
	id, err := parseID(req.ID)
	if err != nil {
		return handler.Error(err)
	}
	if err := m.svc.Catalog.DeletePermission(ctx, caller(ctx), id); err != nil {
		return handler.Error(err)
	}
	return handler.JSON(map[string]string{"id": id.String()})
}
