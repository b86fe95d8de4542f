package hal

import "context"

// Ops is the HAL operations table.
type Ops interface {
	Init(ctx context.Context) error
	Deinit(ctx context.Context) error
	Status(ctx context.Context) error
	FreeData(data *Data)

	SetKey(ctx context.Context, mode KeyType, slot uint32, key, prikey *Data) error
	GetKey(ctx context.Context, mode KeyType, slot uint32, key *Data) error
	RemoveKey(ctx context.Context, mode KeyType, slot uint32) error
	GenerateKey(ctx context.Context, mode KeyType, slot uint32) error

	GenerateRandom(ctx context.Context, n int, random *Data) error
	GetHash(ctx context.Context, mode HashType, in, hash *Data) error
	GetHMAC(ctx context.Context, mode HMACType, in *Data, slot uint32, hmac *Data) error

	RSASignMD(ctx context.Context, mode RSAMode, hash *Data, slot uint32, sign *Data) error
	RSAVerifyMD(ctx context.Context, mode RSAMode, hash, sign *Data, slot uint32) error
	ECDSASignMD(ctx context.Context, mode ECDSAMode, hash *Data, slot uint32, sign *Data) error
	ECDSAVerifyMD(ctx context.Context, mode ECDSAMode, hash, sign *Data, slot uint32) error

	DHGenerateParam(ctx context.Context, slot uint32, param *DHData) error
	DHComputeSharedSecret(ctx context.Context, param *DHData, slot uint32, shared *Data) error
	ECDHComputeSharedSecret(ctx context.Context, param *ECDHData, slot uint32, shared *Data) error

	SetCertificate(ctx context.Context, slot uint32, cert *Data) error
	GetCertificate(ctx context.Context, slot uint32, cert *Data) error
	RemoveCertificate(ctx context.Context, slot uint32) error
	GetFactoryKey(ctx context.Context, slot uint32, key *Data) error
	GetFactoryCert(ctx context.Context, slot uint32, cert *Data) error
	GetFactoryData(ctx context.Context, slot uint32, data *Data) error

	AESEncrypt(ctx context.Context, in *Data, param AESParam, slot uint32, out *Data) error
	AESDecrypt(ctx context.Context, in *Data, param AESParam, slot uint32, out *Data) error
	RSAEncrypt(ctx context.Context, in *Data, mode RSAMode, slot uint32, out *Data) error
	RSADecrypt(ctx context.Context, in *Data, mode RSAMode, slot uint32, out *Data) error

	WriteStorage(ctx context.Context, slot uint32, in *Data) error
	ReadStorage(ctx context.Context, slot uint32, out *Data) error
	DeleteStorage(ctx context.Context, slot uint32) error
}
