package device

type Factory interface {
	FromSpec(spec DeviceSpec) (Session, error)
}

type FactoryDocs interface {
	Help() string
}
